package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type cliOptions struct {
	configPath string
	logLevel   string
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{
		logLevel: "info",
		logger:   zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "cdsmcp",
		Short:         "Serve CDS service models to MCP clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			applyRootFlagBindings(cmd, &opts)
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config (defaults and CDSMCP_* environment when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn or error")

	root.AddCommand(
		newServeCmd(&opts),
		newValidateCmd(&opts),
		newCatalogCmd(&opts),
		newVersionCmd(),
	)

	return root
}

func applyRootFlagBindings(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config":
			opts.configPath, _ = flags.GetString("config")
		case "log-level":
			opts.logLevel, _ = flags.GetString("log-level")
		}
	})
}

func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	return cfg.Build()
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
