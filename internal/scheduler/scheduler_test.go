package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/smallbiznis/receivables/internal/clock"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	"github.com/smallbiznis/receivables/internal/reconcile"
	"go.uber.org/zap"
)

type fakeRunner struct {
	report   reconcile.Report
	err      error
	requests []reconcile.RunRequest
	actors   []string
}

func (f *fakeRunner) Run(ctx context.Context, req reconcile.RunRequest) (reconcile.Report, error) {
	f.requests = append(f.requests, req)
	_, actorID := auditcontext.ActorFromContext(ctx)
	f.actors = append(f.actors, actorID)
	return f.report, f.err
}

type denyAuthz struct{}

func (denyAuthz) Authorize(context.Context, string, string, string, string) error {
	return authorization.ErrForbidden
}

func newTestScheduler(t *testing.T, runner reconcile.Runner, authz authorization.Service) (*Scheduler, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "receivables",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s, err := New(Params{
		Log:      zap.NewNop(),
		Runner:   runner,
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		AuthzSvc: authz,
		Config:   Config{BatchSize: 50},
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, registry
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	s, registry := newTestScheduler(t, &fakeRunner{}, nil)

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "receivables",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "receivables_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "receivables",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "receivables_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceReconcilesAsSystem(t *testing.T) {
	runner := &fakeRunner{report: reconcile.Report{Scanned: 5, Updated: 2, Unchanged: 2, Conflicts: 1}}
	s, registry := newTestScheduler(t, runner, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(runner.requests) != 1 {
		t.Fatalf("expected one sweep, got %d", len(runner.requests))
	}
	req := runner.requests[0]
	if req.Trigger != reconcile.TriggerScheduler || req.BatchSize != 50 {
		t.Fatalf("unexpected request %+v", req)
	}
	if runner.actors[0] != "scheduler" {
		t.Fatalf("expected scheduler actor, got %q", runner.actors[0])
	}

	base := map[string]string{"service": "receivables", "env": "test", "job": JobReconcileReceivables}
	for resource, want := range map[string]float64{
		obsmetrics.ResourceInvoices:         5,
		obsmetrics.ResourceInvoicesUpdated:  2,
		obsmetrics.ResourceInvoicesConflict: 1,
	} {
		labels := map[string]string{"resource": resource}
		for k, v := range base {
			labels[k] = v
		}
		if got := getCounterValue(t, registry, "receivables_scheduler_batch_processed_total", labels); got != want {
			t.Fatalf("%s: expected %v, got %v", resource, want, got)
		}
	}
}

func TestRunOnceDefersWhenSweepHeld(t *testing.T) {
	runner := &fakeRunner{err: reconcile.ErrSweepInProgress}
	s, registry := newTestScheduler(t, runner, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected deferral without error, got %v", err)
	}
	labels := map[string]string{
		"service": "receivables",
		"env":     "test",
		"job":     JobReconcileReceivables,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonLockHeld,
	}
	if got := getCounterValue(t, registry, "receivables_scheduler_batch_deferred_total", labels); got != 1 {
		t.Fatalf("expected deferred count 1, got %v", got)
	}
}

func TestRunOnceReturnsSweepFailure(t *testing.T) {
	boom := errors.New("database unavailable")
	s, _ := newTestScheduler(t, &fakeRunner{err: boom}, nil)

	err := s.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sweep error, got %v", err)
	}
}

func TestReconcileJobRequiresAuthorization(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner, denyAuthz{})

	err := s.RunOnce(context.Background())
	if !errors.Is(err, authorization.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(runner.requests) != 0 {
		t.Fatalf("sweep must not run when unauthorized")
	}
}

func TestDisabledJobIsSkipped(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, runner, nil)
	s.cfg.EnabledJobs = []string{"something_else"}

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(runner.requests) != 0 {
		t.Fatalf("disabled job ran")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
