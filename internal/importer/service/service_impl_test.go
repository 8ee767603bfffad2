package service

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/smallbiznis/receivables/internal/importer/normalizer"
	"github.com/smallbiznis/receivables/internal/importer/repository"
	"github.com/smallbiznis/receivables/internal/importer/source"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
	receivablerepo "github.com/smallbiznis/receivables/internal/receivable/repository"
	receivableservice "github.com/smallbiznis/receivables/internal/receivable/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

type fixture struct {
	svc    *Service
	ledger receivabledomain.Service
	db     *gorm.DB
}

func setup(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:importer_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&receivabledomain.Invoice{},
		&receivabledomain.PaymentRecord{},
		&domain.ImportBatch{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	policy := config.NewStaticLedgerPolicy(config.DefaultLedgerPolicy())

	ledger := receivableservice.New(receivableservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   receivablerepo.Provide(),
		Clock:  clk,
		Policy: policy,
	})

	cfg := config.Config{}
	cfg.Import.ErrorReportLimit = 2
	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(),
		Ledger: ledger,
		Clock:  clk,
		Config: cfg,
		Policy: policy,
	}).(*Service)

	return fixture{svc: svc, ledger: ledger, db: db}
}

func sheetRow(number int, invoice, code, name, amount string) domain.Row {
	return domain.Row{Number: number, Cells: []domain.Cell{
		{Header: "Invoice No", Value: invoice},
		{Header: "BP Code", Value: code},
		{Header: "Customer Name", Value: name},
		{Header: "Amount", Value: amount},
		{Header: "Net Amount", Value: amount},
		{Header: "Document Date", Value: 45383.0},
	}}
}

func withReceived(row domain.Row, received string) domain.Row {
	row.Cells = append(row.Cells, domain.Cell{Header: "Received Amount", Value: received})
	return row
}

// cancelAfterFirstUpsert ends the import context once one row has been written.
type cancelAfterFirstUpsert struct {
	receivabledomain.Service
	cancel context.CancelFunc
}

func (l *cancelAfterFirstUpsert) UpsertInvoice(ctx context.Context, req receivabledomain.CreateInvoiceRequest) (receivabledomain.Invoice, bool, error) {
	defer l.cancel()
	return l.Service.UpsertInvoice(ctx, req)
}

func countInvoices(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&receivabledomain.Invoice{}).Count(&n).Error)
	return n
}

func TestCommitContinuesPastInvalidRows(t *testing.T) {
	f := setup(t)
	rows := []domain.Row{
		sheetRow(2, "INV-1", "C-1", "Acme", "1,000.00"),
		sheetRow(3, "INV-2", "", "Beta", "500"),
		{Number: 4, Cells: []domain.Cell{{Header: "Invoice No", Value: ""}}},
		sheetRow(5, "INV-3", "C-3", "Gamma", "₹ 750"),
	}

	manifest, err := f.svc.Commit(context.Background(), "April Invoices.xlsx", rows)
	require.NoError(t, err)

	assert.Equal(t, 3, manifest.TotalRows)
	assert.Equal(t, 2, manifest.SuccessRows)
	assert.Equal(t, 1, manifest.FailedRows)
	assert.Equal(t, 2, manifest.CreatedRows)
	assert.Equal(t, domain.BatchStatusPartial, manifest.Status)
	assert.Equal(t, []string{"Row 3 Customer Code: Missing customer code (BP Code)"}, manifest.Messages)
	assert.NotEmpty(t, manifest.BatchID)
	assert.Equal(t, int64(2), countInvoices(t, f.db))

	batches, err := f.svc.ListBatches(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "april-invoices-xlsx", batches[0].FileKey)
	assert.Equal(t, domain.BatchStatusPartial, batches[0].Status)
	assert.Contains(t, string(batches[0].ErrorLog), "Missing customer code (BP Code)")

	// The serial 45383 is 2024-04-01, so the defaulted due date is 2024-05-01.
	list, err := f.ledger.ListInvoices(context.Background(), receivabledomain.ListInvoicesRequest{Customer: "gamma"})
	require.NoError(t, err)
	require.Len(t, list.Invoices, 1)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), list.Invoices[0].DueDate.UTC())
	assert.Equal(t, "750", list.Invoices[0].TotalAmount.String())
}

func TestCommitUpdatesExistingInvoices(t *testing.T) {
	f := setup(t)
	rows := []domain.Row{sheetRow(2, "INV-1", "C-1", "Acme", "1000")}

	_, err := f.svc.Commit(context.Background(), "first.csv", rows)
	require.NoError(t, err)

	rows[0] = sheetRow(2, "INV-1", "C-1", "Acme Ltd", "1200")
	manifest, err := f.svc.Commit(context.Background(), "second.csv", rows)
	require.NoError(t, err)
	assert.Equal(t, 0, manifest.CreatedRows)
	assert.Equal(t, 1, manifest.UpdatedRows)
	assert.Equal(t, domain.BatchStatusCompleted, manifest.Status)
	assert.Equal(t, int64(1), countInvoices(t, f.db))
}

func TestCommitAllRowsInvalidIsFailed(t *testing.T) {
	f := setup(t)
	manifest, err := f.svc.Commit(context.Background(), "bad.csv", []domain.Row{
		sheetRow(2, "", "", "", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, manifest.Status)
	// Report is capped by the configured limit.
	assert.Len(t, manifest.Errors, 2)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	f := setup(t)
	manifest, err := f.svc.Preview(context.Background(), "check.xlsx", []domain.Row{
		sheetRow(2, "INV-1", "C-1", "Acme", "1000"),
		sheetRow(3, "INV-2", "C-2", "Beta", "abc"),
	})
	require.NoError(t, err)
	assert.True(t, manifest.DryRun)
	assert.Equal(t, 1, manifest.SuccessRows)
	assert.Equal(t, 1, manifest.FailedRows)
	assert.Zero(t, countInvoices(t, f.db))

	batches, err := f.svc.ListBatches(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestEmptyUploadIsRejected(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Commit(context.Background(), "empty.csv", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyFile)
}

func TestTemplateRowIsImportable(t *testing.T) {
	f := setup(t)
	data, err := f.svc.Template(context.Background())
	require.NoError(t, err)

	rows, err := source.Read("template.xlsx", bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Cells, len(normalizer.TemplateFields))
	assert.Equal(t, "Invoice Number", rows[0].Cells[0].Header)

	_, errs := normalizer.New(30).Normalize(rows[0])
	assert.Empty(t, errs)
}

func TestReimportAfterPaymentDoesNotDoubleCount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, "april.xlsx", []domain.Row{sheetRow(2, "INV-1", "C-1", "Acme", "1000")})
	require.NoError(t, err)
	list, err := f.ledger.ListInvoices(ctx, receivabledomain.ListInvoicesRequest{})
	require.NoError(t, err)
	require.Len(t, list.Invoices, 1)
	inv := list.Invoices[0]

	_, err = f.ledger.AddPayment(ctx, inv.ID.String(), receivabledomain.AddPaymentRequest{
		Amount: decimal.RequireFromString("400"),
		Mode:   "BANK_TRANSFER",
	})
	require.NoError(t, err)

	// The refreshed sheet already shows the 400 received.
	manifest, err := f.svc.Commit(ctx, "april.xlsx", []domain.Row{withReceived(sheetRow(2, "INV-1", "C-1", "Acme", "1000"), "400")})
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.UpdatedRows)

	detail, err := f.ledger.GetInvoice(ctx, inv.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "400", detail.TotalReceipts.String())
	assert.Equal(t, "600", detail.Balance.String())
	assert.True(t, detail.OpeningReceipts.IsZero())

	manifest, err = f.svc.Commit(ctx, "april.xlsx", []domain.Row{withReceived(sheetRow(2, "INV-1", "C-1", "Acme", "1000"), "150")})
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.FailedRows)
	assert.Equal(t, []string{"Row 2 Received Amount: Received amount is below the payments already recorded"}, manifest.Messages)
}

func TestCommitInterruptedStillRecordsBatch(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := *f.svc
	svc.ledger = &cancelAfterFirstUpsert{Service: f.ledger, cancel: cancel}
	rows := []domain.Row{
		sheetRow(2, "INV-1", "C-1", "Acme", "100"),
		sheetRow(3, "INV-2", "C-2", "Beta", "200"),
		sheetRow(4, "INV-3", "C-3", "Gamma", "300"),
	}

	manifest, err := svc.Commit(ctx, "partial.csv", rows)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, manifest.TotalRows)
	assert.Equal(t, 1, manifest.SuccessRows)
	assert.Equal(t, 2, manifest.FailedRows)
	assert.Equal(t, domain.BatchStatusPartial, manifest.Status)
	assert.Equal(t, []string{
		"Row 3 Import stopped before this row",
		"Row 4 Import stopped before this row",
	}, manifest.Messages)
	assert.NotEmpty(t, manifest.BatchID)
	assert.Equal(t, int64(1), countInvoices(t, f.db))

	batches, err := f.svc.ListBatches(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].SuccessRows)
	assert.Equal(t, 2, batches[0].FailedRows)
}
