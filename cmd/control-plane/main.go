// Command control-plane runs the Kafka self-service control plane API and
// its operational subcommands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/kafka-control-plane/config"
	"github.com/upb/kafka-control-plane/internal/observability"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "control-plane",
		Short: "Self-service control plane for Kafka resources",
		Long: `control-plane admits, approves and tracks requests for Kafka topics,
virtual clusters and service accounts, and hands approved requests to the
workflow engine over NATS.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newPoliciesCmd())
	rootCmd.AddCommand(newTokenCmd())
	return rootCmd
}

// loadRuntime reads the environment configuration and builds the logger it asks for
func loadRuntime(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.With(zap.String("environment", cfg.Environment)), nil
}
