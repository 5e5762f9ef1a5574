// Package cmd provides the CLI commands for MnemoLite.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mnemolite/mnemolite/internal/config"
	"github.com/mnemolite/mnemolite/internal/logging"
	"github.com/mnemolite/mnemolite/internal/service"
	"github.com/mnemolite/mnemolite/pkg/version"
)

var (
	configPath string
	mockEmbed  bool
	debugMode  bool
)

// NewRootCmd creates the root command for the mnemolite CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mnemolite",
		Short: "Self-hosted cognitive memory and code intelligence",
		Long: `MnemoLite persists typed events and memories with semantic embeddings,
indexes source repositories into a symbol graph, and serves hybrid
(vector + lexical) retrieval over both corpora.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("mnemolite version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().BoolVar(&mockEmbed, "mock-embeddings", false, "Use deterministic hash embeddings")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads configuration with CLI overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if mockEmbed {
		cfg.Embeddings.Mode = config.EmbeddingModeMock
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging builds the process logger from config.
func setupLogging(cfg *config.Config) (*slog.Logger, func()) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.FilePath = cfg.Logging.FilePath
	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return slog.Default(), func() {}
	}
	slog.SetDefault(logger)
	return logger, cleanup
}

// withService loads config, builds the service, runs fn, and tears down.
func withService(ctx context.Context, fn func(ctx context.Context, svc *service.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := setupLogging(cfg)
	defer cleanup()

	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}
