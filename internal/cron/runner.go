// Package cronrunner runs periodic maintenance jobs on cron schedules.
package cronrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Runner wraps a cron scheduler whose jobs share a base context.
type Runner struct {
	cron    *cron.Cron
	logger  *slog.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Runner for standard five-field cron expressions. A job that
// is still running when its next slot arrives is skipped.
func New(logger *slog.Logger) *Runner {
	logger = logger.With(slog.String("component", "cron"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Add registers job under name on schedule.
func (r *Runner) Add(name, schedule string, job Job) error {
	_, err := r.cron.AddFunc(schedule, func() {
		start := time.Now()
		if err := job(r.baseCtx); err != nil {
			r.logger.Error("cron job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.Debug("cron job done",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("cron: add %s %q: %w", name, schedule, err)
	}
	r.logger.Info("cron job registered", slog.String("job", name), slog.String("schedule", schedule))
	return nil
}

// Len returns the number of registered jobs.
func (r *Runner) Len() int {
	return len(r.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is done. Running jobs see
// their context cancelled and are waited for before Run returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("cron started", slog.Int("jobs", r.Len()))

	<-ctx.Done()
	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("cron stopped")
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
