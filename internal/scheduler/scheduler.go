package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/smallbiznis/receivables/internal/clock"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	"github.com/smallbiznis/receivables/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobReconcileReceivables = "reconcile_receivables"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	Runner   reconcile.Runner
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuthzSvc authorization.Service `optional:"true"`
	Config   Config                `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	runner   reconcile.Runner
	authzSvc authorization.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Runner == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		runner:   p.Runner,
		authzSvc: p.AuthzSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, authorization.ActorSystem, "scheduler")
	ctx = auditcontext.WithActorName(ctx, "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout; the next tick picks up the rest.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobReconcileReceivables, s.isJobEnabled(JobReconcileReceivables), func(ctx context.Context) error {
			return s.runJob(ctx, JobReconcileReceivables, s.cfg.BatchSize, s.cfg.JobTimeout, s.ReconcileJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileJob re-derives every invoice's stored classification. A sweep
// already held by another instance defers this run instead of failing it.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileReceivables, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectReconcile, authorization.ActionReconcileRun); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobReconcileReceivables, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	report, err := s.runner.Run(ctx, reconcile.RunRequest{
		BatchSize: s.cfg.BatchSize,
		Trigger:   reconcile.TriggerScheduler,
	})
	if errors.Is(err, reconcile.ErrSweepInProgress) {
		schedMetrics.IncBatchDeferred(JobReconcileReceivables, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Info("scheduler.job.deferred",
			zap.String("job", JobReconcileReceivables),
			zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonLockHeld),
		)
		return nil
	}

	run.AddProcessed(report.Scanned)
	schedMetrics.AddBatchProcessed(JobReconcileReceivables, obsmetrics.ResourceInvoices, report.Scanned)
	schedMetrics.AddBatchProcessed(JobReconcileReceivables, obsmetrics.ResourceInvoicesUpdated, report.Updated)
	schedMetrics.AddBatchProcessed(JobReconcileReceivables, obsmetrics.ResourceInvoicesConflict, report.Conflicts)

	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reconcile.failed", JobReconcileReceivables, err,
			zap.String("reconcile_run_id", report.RunID),
		)
		return err
	}
	if report.Failed > 0 {
		run.IncError()
	}
	return nil
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object, action string) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, authorization.ActorSystem, authorization.RoleSystem, object, action)
}
