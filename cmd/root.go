// Package cmd defines and implements the CLI commands for the patchtrace
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patchtrace/patchtrace/internal/config"
	"github.com/patchtrace/patchtrace/internal/logging"
)

var cfgFile string

// runtimeKeyType is the key for storing the shared runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries the pieces every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patchtrace",
		Short: "Resolves security advisory URLs into remediation metadata.",
		Long: `patchtrace enriches vulnerability record sets with remediation
metadata. It fetches each advisory URL with the least invasive strategy that
works for that source, extracts patch identifiers and download links, and
merges the results back into the record set.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			cmd.SetContext(withRuntime(cmd.Context(), &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := runtimeFrom(cmd.Context()); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment only)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCapabilitiesCmd())

	return cmd
}

func withRuntime(ctx context.Context, rt *runtime) context.Context {
	return context.WithValue(ctx, runtimeKey, rt)
}

func runtimeFrom(ctx context.Context) (*runtime, bool) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	return rt, ok && rt != nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "patchtrace: %v\n", err)
		os.Exit(1)
	}
}
