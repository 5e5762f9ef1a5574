package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var (
		jsonOutput  bool
		shortOutput bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if shortOutput {
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return nil
			}
			if jsonOutput {
				return encodeJSON(cmd, version.GetInfo())
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Print only the version number")
	return cmd
}
