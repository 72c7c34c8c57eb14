// Package scheduler runs the promotion gate batch on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	gatesvc "hypogate/internal/gate"
)

// DefaultSpec runs the batch at the top of every hour
const DefaultSpec = "@hourly"

// BatchRunner is the part of the gate the scheduler drives
type BatchRunner interface {
	RunBatch(ctx context.Context) (gatesvc.BatchReport, error)
}

type Runner struct {
	cron    *cron.Cron
	batch   BatchRunner
	timeout time.Duration
	logger  zerolog.Logger
	baseCtx context.Context
}

// New creates a runner. Overlapping ticks are skipped while a batch is still running.
func New(baseCtx context.Context, batch BatchRunner, timeout time.Duration, logger zerolog.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	cl := cronLogger{logger: logger}
	return &Runner{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		batch:   batch,
		timeout: timeout,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Schedule registers the batch job under spec
func (r *Runner) Schedule(spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	return r.cron.AddFunc(spec, func() { r.RunOnce() })
}

// RunOnce runs a single batch under the per-run timeout and logs its report
func (r *Runner) RunOnce() (gatesvc.BatchReport, error) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()

	report, err := r.batch.RunBatch(ctx)
	if err != nil {
		r.logger.Error().Err(err).Int("total", report.Total).Msg("promotion batch aborted")
		return report, err
	}
	r.logger.Info().
		Int("total", report.Total).
		Int("passed", report.Passed).
		Int("failed", report.Failed).
		Int("pending", report.Pending).
		Int("deferred", report.Deferred).
		Int("skipped", report.Skipped).
		Int("errored", report.Errored).
		Dur("duration", report.Duration).
		Msg("promotion batch finished")
	return report, nil
}

func (r *Runner) Start() {
	r.logger.Info().Msg("scheduler started")
	r.cron.Start()
}

// Stop waits for a running batch to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("scheduler stopped")
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
