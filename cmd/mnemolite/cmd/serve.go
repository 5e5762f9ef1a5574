package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/output"
	"github.com/mnemolite/mnemolite/internal/service"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume the transcript stream until interrupted",
		Long: `Serve attaches to the configured Redis stream and auto-saves
conversation messages as memories. Runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := output.New(cmd.OutOrStdout())
			return withService(ctx, func(ctx context.Context, svc *service.Service) error {
				consumer, err := svc.NewConsumer()
				if err != nil {
					return err
				}
				defer consumer.Close()

				out.Statusf("⏳", "Consuming transcript stream (ctrl-c to stop)")
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				out.Success("Shut down cleanly")
				return nil
			})
		},
	}
	return cmd
}
