package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/config"
)

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "path to the CSN model file (overrides config)")
	cmd.Flags().String("data", "", "directory of CSV seed files (overrides config)")
}

func addServeFlags(cmd *cobra.Command) {
	addModelFlags(cmd)
	cmd.Flags().String("http-addr", "", "listen address (overrides http.addr)")
	cmd.Flags().String("database", "", "SQLite DSN (overrides database)")
	cmd.Flags().String("auth", "", "auth mode: inherit or none (overrides auth.mode)")
	cmd.Flags().Bool("watch", false, "reload the catalog when the model file changes")
}

// flagOverrides maps explicitly set flags onto config keys.
func flagOverrides(cmd *cobra.Command) (map[string]any, error) {
	overrides := map[string]any{}
	flags := cmd.Flags()
	var pathErr error
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "model", "data":
			value, _ := flags.GetString(f.Name)
			abs, err := filepath.Abs(value)
			if err != nil {
				pathErr = err
				return
			}
			overrides[f.Name] = abs
		case "http-addr":
			overrides["http.addr"], _ = flags.GetString("http-addr")
		case "database":
			overrides["database"], _ = flags.GetString("database")
		case "auth":
			overrides["auth.mode"], _ = flags.GetString("auth")
		case "watch":
			overrides["watchModel"], _ = flags.GetBool("watch")
		}
	})
	return overrides, pathErr
}

func loadConfig(ctx context.Context, cmd *cobra.Command, opts *cliOptions) (domain.Config, error) {
	overrides, err := flagOverrides(cmd)
	if err != nil {
		return domain.Config{}, err
	}
	return config.NewLoader(opts.logger).LoadWithOverrides(ctx, opts.configPath, overrides)
}
