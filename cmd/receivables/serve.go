package main

import (
	"github.com/smallbiznis/receivables/internal/scheduler"
	"github.com/smallbiznis/receivables/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reconciliation scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			ledgerModules(),
			scheduler.Module,
			server.Module,
			fx.WithLogger(fxLogger),
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
