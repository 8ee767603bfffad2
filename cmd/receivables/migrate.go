package main

import (
	"context"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, func(context.Context) error {
			cmd.Println("schema up to date")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
