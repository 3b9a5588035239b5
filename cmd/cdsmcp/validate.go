package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdsmcp/internal/app"
)

func newValidateCmd(opts *cliOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config and model without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			catalog, err := app.Validate(cmd.Context(), cfg, opts.logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary := catalog.Summary()
			fmt.Fprintf(out, "ok: %d tools, %d resources, %d prompts\n", summary.Tools, summary.Resources, summary.Prompts)
			for _, diag := range catalog.Diagnostics {
				fmt.Fprintf(out, "skipped %s: %s\n", diag.Element, diag.Message)
			}
			if strict && len(catalog.Diagnostics) > 0 {
				return exitWithMessage(2, fmt.Sprintf("%d model elements were skipped", len(catalog.Diagnostics)))
			}
			return nil
		},
	}
	addModelFlags(cmd)
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any model element is skipped")
	return cmd
}
