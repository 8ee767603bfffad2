package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/receivables/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one scheduler job execution. Nested calls for the same job
// share the run stored in the context, so start and finish log only once.
type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r != nil && count > 0 {
		r.processedCount += count
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errorCount++
	}
}

func (r *jobRun) fields() []zap.Field {
	return []zap.Field{zap.String("job", r.job), zap.String("run_id", r.runID)}
}

// ensureJobRun returns the run already in ctx or starts a new one. The bool
// is true when the caller owns the new run.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && run != nil {
		return ctx, run, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	return context.WithValue(ctx, jobRunKey{}, run), run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run != nil {
		s.logger(ctx).Info("scheduler.job.start", append(run.fields(), zap.Int("batch_size", run.batchSize))...)
	}
}

// logJobFinish logs at warn when any error was counted during the run.
func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := append(run.fields(),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	)
	log := s.logger(ctx)
	if run.errorCount == 0 {
		log.Info("scheduler.job.finish", fields...)
		return
	}
	log.Warn("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, err error, extra ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	fields := append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}, extra...)
	s.logger(ctx).Error(msg, fields...)
}
