package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/service"
)

func newPurgeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge <repository>",
		Short: "Remove a repository's chunks, graph, and recorded errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			if !force {
				out.Warningf("This permanently removes all index data for %q. Re-run with --force to confirm.", args[0])
				return nil
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				if err := svc.PurgeRepository(ctx, args[0]); err != nil {
					return err
				}
				out.Successf("Purged repository %q", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation guard")
	return cmd
}
