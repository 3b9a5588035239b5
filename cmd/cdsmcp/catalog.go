package main

import (
	"github.com/spf13/cobra"

	"cdsmcp/internal/app"
)

func newCatalogCmd(opts *cliOptions) *cobra.Command {
	output := outputTable
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the tools, resources and prompts derived from the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			catalog, err := app.BuildCatalog(cmd.Context(), cfg, opts.logger)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), catalog, format)
		},
	}
	addModelFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", output, "output format: table, json, yaml or toml")
	return cmd
}
