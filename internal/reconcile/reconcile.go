// Package reconcile re-derives the stored classification of every invoice.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	"github.com/smallbiznis/receivables/internal/observability/tracing"
	"github.com/smallbiznis/receivables/internal/ratelimit"
	"github.com/smallbiznis/receivables/internal/receivable/classifier"
	"github.com/smallbiznis/receivables/internal/receivable/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize = 200
	lockKey          = "receivables:reconcile:lock"
	defaultLockTTL   = 15 * time.Minute

	TriggerScheduler = "scheduler"
	TriggerAPI       = "api"
	TriggerCLI       = "cli"
)

var ErrSweepInProgress = errors.New("sweep_in_progress")

type RunRequest struct {
	// InvoiceIDs limits the sweep to these invoices. Empty means all.
	InvoiceIDs []snowflake.ID
	BatchSize  int
	Trigger    string
}

type Report struct {
	RunID            string    `json:"run_id"`
	Trigger          string    `json:"trigger"`
	Scanned          int       `json:"scanned"`
	Updated          int       `json:"updated"`
	Unchanged        int       `json:"unchanged"`
	SkippedCancelled int       `json:"skipped_cancelled"`
	Conflicts        int       `json:"conflicts"`
	Failed           int       `json:"failed"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Runner is what the scheduler, the HTTP surface and the CLI depend on.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (Report, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Clock    clock.Clock
	Config   config.Config
	Policy   *config.LedgerPolicyHolder `optional:"true"`
	Locker   *ratelimit.Locker          `optional:"true"`
	Recorder auditdomain.Recorder       `optional:"true"`
	Metrics  *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	clock    clock.Clock
	loc      *time.Location
	policy   *config.LedgerPolicyHolder
	locker   *ratelimit.Locker
	recorder auditdomain.Recorder
	metrics  *obsmetrics.Metrics

	batchSize int
	lockTTL   time.Duration
}

func New(p Params) *Service {
	batch := p.Config.Reconcile.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	ttl := p.Config.Reconcile.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("reconcile.service"),
		repo:      p.Repo,
		clock:     clk,
		loc:       p.Config.Ledger.Location(),
		policy:    p.Policy,
		locker:    p.Locker,
		recorder:  p.Recorder,
		metrics:   p.Metrics,
		batchSize: batch,
		lockTTL:   ttl,
	}
}

// Run sweeps the ledger once. A context cancelled mid-run returns the partial
// report together with the context error.
func (s *Service) Run(ctx context.Context, req RunRequest) (report Report, err error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerAPI
	}
	batch := req.BatchSize
	if batch <= 0 {
		batch = s.batchSize
	}

	if s.locker.Enabled() {
		lease, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
		if err != nil {
			return Report{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if lease == nil {
			return Report{}, ErrSweepInProgress
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	ctx, span := tracing.StartSpan(ctx, "receivables/reconcile", "reconcile.run",
		attribute.String("trigger", trigger))
	defer func() { tracing.EndSpan(span, err) }()

	now := s.clock.Now()
	report = Report{
		RunID:     ulid.Make().String(),
		Trigger:   trigger,
		StartedAt: now,
	}
	c := classifier.FromPolicy(s.policy.Get(), s.loc)

	if len(req.InvoiceIDs) > 0 {
		err = s.sweepIDs(ctx, c, now, req.InvoiceIDs, batch, &report)
	} else {
		err = s.sweepAll(ctx, c, now, batch, &report)
	}
	report.FinishedAt = s.clock.Now()

	s.finish(ctx, report, err)
	return report, err
}

func (s *Service) sweepAll(ctx context.Context, c classifier.Classifier, now time.Time, batch int, report *Report) error {
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		invoices, err := s.repo.ScanInvoices(ctx, s.db.WithContext(ctx), afterID, batch)
		if err != nil {
			return fmt.Errorf("scan invoices after %s: %w", afterID, err)
		}
		if err := s.reconcileBatch(ctx, c, now, invoices, report); err != nil {
			return err
		}
		if len(invoices) < batch {
			return nil
		}
		afterID = invoices[len(invoices)-1].ID
	}
}

func (s *Service) sweepIDs(ctx context.Context, c classifier.Classifier, now time.Time, ids []snowflake.ID, batch int, report *Report) error {
	for start := 0; start < len(ids); start += batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batch, len(ids))
		invoices, err := s.repo.FindInvoicesByIDs(ctx, s.db.WithContext(ctx), ids[start:end])
		if err != nil {
			return fmt.Errorf("load invoices: %w", err)
		}
		if err := s.reconcileBatch(ctx, c, now, invoices, report); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reconcileBatch(ctx context.Context, c classifier.Classifier, now time.Time, invoices []*domain.Invoice, report *Report) error {
	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if inv == nil {
			continue
		}
		report.Scanned++

		if inv.IsCancelled() {
			report.SkippedCancelled++
			continue
		}

		derived := c.Derive(classifier.InputsOf(*inv), now)
		if !derived.Differs(*inv) {
			report.Unchanged++
			continue
		}

		applied, err := s.repo.ApplyDerived(ctx, s.db.WithContext(ctx), domain.DerivedUpdate{
			ID:              inv.ID,
			ExpectedVersion: inv.Version,
			TotalReceipts:   derived.TotalReceipts,
			Balance:         derived.Balance,
			DueByDays:       derived.DueByDays,
			Status:          derived.Status,
			RiskClass:       derived.Risk,
			ReconciledAt:    now,
		})
		switch {
		case err != nil:
			report.Failed++
			s.log.Warn("failed to reconcile invoice",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err),
			)
		case !applied:
			// A ledger mutation committed since the scan; the next run picks it up.
			report.Conflicts++
		default:
			report.Updated++
		}
	}
	return nil
}

func (s *Service) finish(ctx context.Context, report Report, err error) {
	outcomes := map[string]int{
		"updated":           report.Updated,
		"unchanged":         report.Unchanged,
		"skipped_cancelled": report.SkippedCancelled,
		"conflict":          report.Conflicts,
		"failed":            report.Failed,
	}
	for outcome, n := range outcomes {
		if n > 0 {
			s.metrics.RecordReconcile(ctx, outcome, n)
		}
	}

	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("trigger", report.Trigger),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped_cancelled", report.SkippedCancelled),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if err != nil {
		s.log.Warn("reconcile run ended early", append(fields, zap.Error(err))...)
	} else {
		s.log.Info("reconcile run completed", fields...)
	}

	if s.recorder == nil {
		return
	}
	s.recorder.Record(context.WithoutCancel(ctx), auditdomain.Event{
		Action:      "ledger.reconciled",
		Description: fmt.Sprintf("reconciled %d invoices, %d updated", report.Scanned, report.Updated),
		TargetType:  "ledger",
		TargetID:    report.RunID,
		Metadata: map[string]any{
			"trigger":           report.Trigger,
			"scanned":           report.Scanned,
			"updated":           report.Updated,
			"unchanged":         report.Unchanged,
			"skipped_cancelled": report.SkippedCancelled,
			"conflicts":         report.Conflicts,
			"failed":            report.Failed,
			"completed":         err == nil,
		},
	})
}
