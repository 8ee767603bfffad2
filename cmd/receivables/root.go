package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "receivables",
	Short: "Accounts-receivable ledger and reconciliation engine",
	Long: `receivables keeps an invoice ledger with running receipts, derives
status and collection risk from due dates, and reconciles the stored
classification as days pass.

Configuration is read from the environment and an optional .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("actor", "cli", "Name recorded as the actor of ledger changes")
}
