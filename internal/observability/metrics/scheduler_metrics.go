package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/receivables/internal/authorization"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeAuthorization    = "authorization"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonForbidden            = "forbidden"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonLockHeld = "lock_held"
)

// Resource labels for reconcile sweep counters.
const (
	ResourceInvoices         = "invoices"
	ResourceInvoicesUpdated  = "invoices_updated"
	ResourceInvoicesConflict = "invoices_conflict"
)

// pgReasons maps postgres SQLSTATE codes to job error reasons.
var pgReasons = map[string]string{
	"55P03": SchedulerJobReasonDBLockTimeout,
	"40001": SchedulerJobReasonSerializationFailure,
	"23505": SchedulerJobReasonUniqueViolation,
}

var gormFailures = []error{
	gorm.ErrInvalidDB,
	gorm.ErrInvalidTransaction,
	gorm.ErrInvalidField,
	gorm.ErrInvalidData,
	gorm.ErrMissingWhereClause,
	gorm.ErrUnsupportedDriver,
	gorm.ErrInvalidValue,
	gorm.ErrDuplicatedKey,
}

// SchedulerMetrics holds the prometheus series for the reconcile scheduler.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics
)

func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig registers the scheduler series on the default
// registerer the first time it is called. Later calls ignore cfg.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerOnce.Do(func() {
		scheduler = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return scheduler
}

func ResetSchedulerMetricsForTest() {
	schedulerOnce = sync.Once{}
	scheduler = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{
		"service": valueOr(cfg.ServiceName, "receivables"),
		"env":     valueOr(cfg.Environment, "unknown"),
	}
	counter := func(name, help string, vars ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "receivables",
			Subsystem:   "scheduler",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, vars)
	}

	m := &SchedulerMetrics{
		jobRuns:     counter("job_runs_total", "Scheduler job runs by name.", "job"),
		jobTimeouts: counter("job_timeouts_total", "Scheduler jobs that ran out of time.", "job"),
		jobErrors:   counter("job_errors_total", "Scheduler job errors by reason.", "job", "reason"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "receivables",
			Subsystem:   "scheduler",
			Name:        "job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     prometheus.ExponentialBucketsRange(0.01, 1800, 16),
			ConstLabels: labels,
		}, []string{"job"}),
		batchProcessed: counter("batch_processed_total", "Invoices handled by scheduler jobs.", "job", "resource"),
		batchDeferred:  counter("batch_deferred_total", "Scheduler runs deferred by reason.", "job", "reason"),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "receivables",
			Subsystem:   "scheduler",
			Name:        "runloop_lag_seconds",
			Help:        "Delay between the planned tick and the actual run.",
			Buckets:     prometheus.ExponentialBucketsRange(0.01, 300, 12),
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(
		m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors,
		m.batchProcessed, m.batchDeferred, m.runLoopLag,
	)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m != nil {
		m.jobRuns.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m != nil {
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m != nil {
		m.jobTimeouts.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m != nil && err != nil {
		m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
	}
}

// AddBatchProcessed ignores non-positive counts.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m != nil && count > 0 {
		m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
	}
}

func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m != nil {
		m.batchDeferred.WithLabelValues(job, reason).Inc()
	}
}

func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m != nil {
		m.runLoopLag.Observe(max(d, 0).Seconds())
	}
}

// ClassifySchedulerErrorType returns the error_type logged for a failed job.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case isDeadline(err):
		return SchedulerErrorTypeDeadlineExceeded
	case isAuthorizationError(err):
		return SchedulerErrorTypeAuthorization
	case isDBError(err):
		return SchedulerErrorTypeDB
	default:
		return SchedulerErrorTypeBusinessRule
	}
}

// IsSchedulerErrorRetryable is true for timeouts and storage failures.
func IsSchedulerErrorRetryable(err error) bool {
	return err != nil && (isDeadline(err) || isDBError(err))
}

// ClassifySchedulerJobReason returns the reason label for job_errors_total.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case isDeadline(err):
		return SchedulerJobReasonDeadlineExceeded
	case isAuthorizationError(err):
		return SchedulerJobReasonForbidden
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return SchedulerJobReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if reason, ok := pgReasons[pgErr.Code]; ok {
			return reason
		}
	}
	return SchedulerJobReasonUnknown
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func isAuthorizationError(err error) bool {
	for _, target := range []error{
		authorization.ErrForbidden,
		authorization.ErrInvalidActor,
		authorization.ErrInvalidObject,
		authorization.ErrInvalidAction,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isDBError treats a missing row as a domain outcome, not a storage failure.
func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	for _, target := range gormFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func valueOr(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
