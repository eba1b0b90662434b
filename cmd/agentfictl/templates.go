package main

import (
	"context"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the workflow templates registered on the daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		templates, err := client.ListTemplates(ctx)
		if err != nil {
			return err
		}
		return printJSON(templates)
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
