package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/service"
)

func newDoctorCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check store, embedder, and breaker health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *service.Service) error {
				ready := svc.Ready(ctx)
				if asJSON {
					return encodeJSON(cmd, ready)
				}

				out := output.New(cmd.OutOrStdout())
				check(out, "store reachable", ready.Store)
				check(out, "embedder available", ready.Embedder)
				for _, b := range ready.Breakers {
					check(out, fmt.Sprintf("breaker %s (%s)", b.Dependency, b.State), b.State != "open")
				}
				if !ready.Store || !ready.Embedder {
					return fmt.Errorf("one or more health checks failed")
				}
				out.Success("All checks passed")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func check(out *output.Writer, name string, ok bool) {
	if ok {
		out.Statusf("✅", "%s", name)
	} else {
		out.Statusf("❌", "%s", name)
	}
}
