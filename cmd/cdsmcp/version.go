package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdsmcp/internal/app"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cdsmcp %s (%s)\n", app.Version, app.Build)
			return err
		},
	}
}
