package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/smallbiznis/receivables/internal/reconcile"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute stored status, risk and days overdue",
	Long: `Sweep the ledger once and re-derive every invoice's classification
against today's date. Cancelled invoices are left untouched.`,
	Example: `  # Sweep every invoice
  receivables reconcile

  # Only the given invoices
  receivables reconcile --invoice 1789456123456789504 --invoice 1789456123456789505`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringSlice("invoice", nil, "Invoice ID to reconcile (repeatable)")
	reconcileCmd.Flags().Int("batch-size", 0, "Invoices per batch (default from RECONCILE_BATCH_SIZE)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rawIDs, _ := cmd.Flags().GetStringSlice("invoice")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	if batchSize < 0 {
		return fmt.Errorf("batch size must not be negative")
	}

	ids := make([]snowflake.ID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			return fmt.Errorf("invalid invoice id %q", raw)
		}
		ids = append(ids, id)
	}

	var (
		runner reconcile.Runner
		authz  authorization.Service
	)
	return runOnce(cmd, func(ctx context.Context) error {
		if err := authz.Authorize(ctx, authorization.ActorSystem, authorization.RoleSystem, authorization.ObjectReconcile, authorization.ActionReconcileRun); err != nil {
			return err
		}
		report, err := runner.Run(ctx, reconcile.RunRequest{
			InvoiceIDs: ids,
			BatchSize:  batchSize,
			Trigger:    reconcile.TriggerCLI,
		})
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}, fx.Populate(&runner, &authz))
}
