package main

import (
	"github.com/spf13/cobra"

	"cdsmcp/internal/app"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streamable HTTP MCP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			cfg, err := loadConfig(ctx, cmd, opts)
			if err != nil {
				return err
			}
			application, cleanup, err := app.InitializeApplication(ctx, app.ServeConfig{
				Config:     cfg,
				ConfigPath: opts.configPath,
			}, app.LoggingConfig{Logger: opts.logger})
			if err != nil {
				return err
			}
			defer cleanup()
			return application.Run(ctx)
		},
	}
	addServeFlags(cmd)
	return cmd
}
