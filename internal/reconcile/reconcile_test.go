package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/smallbiznis/receivables/internal/receivable/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

type recorderStub struct{ events []auditdomain.Event }

func (r *recorderStub) Record(_ context.Context, e auditdomain.Event) { r.events = append(r.events, e) }

// racingRepo bumps an invoice's version right before the guarded write, as a
// concurrent payment would.
type racingRepo struct {
	domain.Repository
	db     *gorm.DB
	target snowflake.ID
}

func (r *racingRepo) ApplyDerived(ctx context.Context, tx *gorm.DB, u domain.DerivedUpdate) (bool, error) {
	if u.ID == r.target {
		if err := r.db.Exec(`UPDATE invoices SET version = version + 1 WHERE id = ?`, u.ID).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.ApplyDerived(ctx, tx, u)
}

type fixture struct {
	db       *gorm.DB
	repo     domain.Repository
	node     *snowflake.Node
	clock    *clock.FakeClock
	recorder *recorderStub
}

func setup(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:reconcile_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Invoice{}, &domain.PaymentRecord{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	return fixture{
		db:       db,
		repo:     repository.Provide(),
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		recorder: &recorderStub{},
	}
}

func (f fixture) service(repo domain.Repository, batch int) *Service {
	cfg := config.Config{}
	cfg.Reconcile.BatchSize = batch
	return New(Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		Repo:     repo,
		Clock:    f.clock,
		Config:   cfg,
		Recorder: f.recorder,
	})
}

// seed stores an invoice whose derived fields are stale: they describe the
// day it was written, not today.
func (f fixture) seed(t *testing.T, number string, total, receipts string, due time.Time, status domain.InvoiceStatus) domain.Invoice {
	t.Helper()
	inv := domain.Invoice{
		ID:            f.node.Generate(),
		InvoiceNumber: number,
		CustomerCode:  "BP-1",
		CustomerName:  "Acme",
		TotalAmount:   decimal.RequireFromString(total),
		NetAmount:     decimal.RequireFromString(total),
		Receipts:      decimal.RequireFromString(receipts),
		Adjustments:   decimal.Zero,
		TotalReceipts: decimal.RequireFromString(receipts),
		Balance:       decimal.RequireFromString(total).Sub(decimal.RequireFromString(receipts)),
		InvoiceDate:   due.AddDate(0, 0, -30),
		DueDate:       due,
		Status:        status,
		RiskClass:     domain.RiskLow,
		DueByDays:     -1,
		Version:       1,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	require.NoError(t, f.repo.InsertInvoice(context.Background(), f.db, &inv))
	return inv
}

func TestRunUpdatesStaleInvoicesAndIsIdempotent(t *testing.T) {
	f := setup(t)
	overdue := f.seed(t, "INV-1", "1000", "0", time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)
	f.seed(t, "INV-2", "1000", "400", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)
	f.seed(t, "INV-3", "500", "0", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusCancelled)

	svc := f.service(f.repo, 2)

	report, err := svc.Run(context.Background(), RunRequest{Trigger: TriggerCLI})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.SkippedCancelled)
	assert.Zero(t, report.Conflicts)
	assert.NotEmpty(t, report.RunID)

	stored, err := f.repo.FindInvoiceByID(context.Background(), f.db, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, stored.DueByDays)
	assert.Equal(t, domain.InvoiceStatusOverdue, stored.Status)
	assert.Equal(t, domain.RiskHigh, stored.RiskClass)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.LastReconciledAt)

	again, err := svc.Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
	assert.Equal(t, 2, again.Unchanged)
	assert.Equal(t, TriggerAPI, again.Trigger)

	require.Len(t, f.recorder.events, 2)
	assert.Equal(t, "ledger.reconciled", f.recorder.events[0].Action)
	assert.Equal(t, 2, f.recorder.events[0].Metadata["updated"])
}

func TestRunLeavesCancelledInvoicesUntouched(t *testing.T) {
	f := setup(t)
	cancelled := f.seed(t, "INV-C", "500", "0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusCancelled)

	_, err := f.service(f.repo, 10).Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	stored, err := f.repo.FindInvoiceByID(context.Background(), f.db, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, stored.Status)
	assert.Equal(t, -1, stored.DueByDays)
	assert.Equal(t, int64(1), stored.Version)
}

func TestRunCountsVersionConflicts(t *testing.T) {
	f := setup(t)
	raced := f.seed(t, "INV-R", "1000", "0", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)
	f.seed(t, "INV-S", "1000", "0", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)

	repo := &racingRepo{Repository: f.repo, db: f.db, target: raced.ID}
	report, err := f.service(repo, 10).Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Updated)

	stored, err := f.repo.FindInvoiceByID(context.Background(), f.db, raced.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPending, stored.Status)

	// The next run picks the invoice up.
	report, err = f.service(f.repo, 10).Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Conflicts)
}

func TestRunSelectedInvoices(t *testing.T) {
	f := setup(t)
	a := f.seed(t, "INV-A", "100", "0", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)
	f.seed(t, "INV-B", "100", "0", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)

	report, err := f.service(f.repo, 10).Run(context.Background(), RunRequest{InvoiceIDs: []snowflake.ID{a.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Updated)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := setup(t)
	f.seed(t, "INV-A", "100", "0", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), domain.InvoiceStatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.service(f.repo, 10).Run(ctx, RunRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Updated)
	require.Len(t, f.recorder.events, 1)
	assert.Equal(t, false, f.recorder.events[0].Metadata["completed"])
}
