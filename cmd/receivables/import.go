package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallbiznis/receivables/internal/authorization"
	importdomain "github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/smallbiznis/receivables/internal/importer/source"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import invoices from an .xlsx or .csv spreadsheet",
	Long: `Upsert invoices from a spreadsheet. Existing invoices with the same
number are refreshed and keep their payment history. Invalid rows are
reported and skipped.`,
	Example: `  # Validate without writing
  receivables import april.xlsx --dry-run

  # Commit
  receivables import april.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var templateCmd = &cobra.Command{
	Use:   "template <out.xlsx>",
	Short: "Write the import template workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc importdomain.Service
		return runOnce(cmd, func(ctx context.Context) error {
			data, err := svc.Template(ctx)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("write template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template written to %s\n", args[0])
			return nil
		}, fx.Populate(&svc))
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(templateCmd)

	importCmd.Flags().Bool("dry-run", false, "Validate rows without writing to the ledger")
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := source.Read(path, f)
	if err != nil {
		return err
	}

	var (
		svc   importdomain.Service
		authz authorization.Service
	)
	return runOnce(cmd, func(ctx context.Context) error {
		action := authorization.ActionImportCommit
		if dryRun {
			action = authorization.ActionImportPreview
		}
		if err := authz.Authorize(ctx, authorization.ActorSystem, authorization.RoleSystem, authorization.ObjectImport, action); err != nil {
			return err
		}

		name := filepath.Base(path)
		var manifest importdomain.Manifest
		if dryRun {
			manifest, err = svc.Preview(ctx, name, rows)
		} else {
			manifest, err = svc.Commit(ctx, name, rows)
		}
		// An interrupted commit still reports the rows it got through.
		if manifest.TotalRows > 0 {
			printManifest(cmd, manifest)
		}
		return err
	}, fx.Populate(&svc, &authz))
}

func printManifest(cmd *cobra.Command, m importdomain.Manifest) {
	out := cmd.OutOrStdout()
	if m.DryRun {
		fmt.Fprintf(out, "%s: %d rows, %d valid, %d invalid (dry run)\n", m.FileName, m.TotalRows, m.SuccessRows, m.FailedRows)
	} else {
		fmt.Fprintf(out, "%s: %s, %d rows, %d created, %d updated, %d failed\n",
			m.FileName, m.Status, m.TotalRows, m.CreatedRows, m.UpdatedRows, m.FailedRows)
	}
	for _, msg := range m.Messages {
		fmt.Fprintln(out, "  "+msg)
	}
}
