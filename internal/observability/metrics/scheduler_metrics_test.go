package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestSchedulerErrorClassification(t *testing.T) {
	wrapped := func(err error) error { return fmt.Errorf("sweep batch: %w", err) }

	cases := []struct {
		err       error
		reason    string
		errType   string
		retryable bool
	}{
		{context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded, SchedulerErrorTypeDeadlineExceeded, true},
		{wrapped(authorization.ErrForbidden), SchedulerJobReasonForbidden, SchedulerErrorTypeAuthorization, false},
		{wrapped(&pgconn.PgError{Code: "55P03"}), SchedulerJobReasonDBLockTimeout, SchedulerErrorTypeDB, true},
		{&pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure, SchedulerErrorTypeDB, true},
		{gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation, SchedulerErrorTypeDB, true},
		{gorm.ErrRecordNotFound, SchedulerJobReasonUnknown, SchedulerErrorTypeBusinessRule, false},
		{errors.New("invoice row rejected"), SchedulerJobReasonUnknown, SchedulerErrorTypeBusinessRule, false},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.reason, ClassifySchedulerJobReason(tc.err))
			assert.Equal(t, tc.errType, ClassifySchedulerErrorType(tc.err))
			assert.Equal(t, tc.retryable, IsSchedulerErrorRetryable(tc.err))
		})
	}
	assert.Equal(t, SchedulerErrorTypeUnknown, ClassifySchedulerErrorType(nil))
	assert.False(t, IsSchedulerErrorRetryable(nil))
}

func TestSchedulerCounters(t *testing.T) {
	m := newSchedulerMetrics(prometheus.NewRegistry(), Config{Environment: "test"})

	m.AddBatchProcessed("reconcile_receivables", ResourceInvoices, 3)
	m.AddBatchProcessed("reconcile_receivables", ResourceInvoices, 0)
	m.AddBatchProcessed("reconcile_receivables", ResourceInvoicesUpdated, -2)
	m.IncJobError("reconcile_receivables", nil)
	m.IncJobError("reconcile_receivables", context.Canceled)
	m.ObserveRunLoopLag(-time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("reconcile_receivables", ResourceInvoices)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("reconcile_receivables", ResourceInvoicesUpdated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("reconcile_receivables", SchedulerJobReasonDeadlineExceeded)))
}

func TestNilSchedulerMetricsAreSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("job")
	m.ObserveJobDuration("job", time.Second)
	m.IncJobTimeout("job")
	m.IncJobError("job", errors.New("x"))
	m.AddBatchProcessed("job", ResourceInvoices, 1)
	m.IncBatchDeferred("job", SchedulerBatchDeferredReasonLockHeld)
	m.ObserveRunLoopLag(time.Second)
}
