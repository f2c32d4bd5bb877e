package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled pipeline run
type Job func(ctx context.Context) error

// Service runs a job on a cron schedule in the pipeline's timezone.
// A tick that fires while the previous run is still going is skipped.
type Service struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewService creates a scheduler. timeout bounds each run; zero means none.
func NewService(loc *time.Location, timeout time.Duration, logger *slog.Logger) *Service {
	cl := cronLogger{logger: logger}
	return &Service{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: timeout,
	}
}

// Schedule registers job under a standard five-field spec or a descriptor
// such as "@daily", and returns the next activation time
func (s *Service) Schedule(ctx context.Context, spec string, job Job) (time.Time, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.runOnce(ctx, job)
	}))
	return schedule.Next(time.Now()), nil
}

func (s *Service) runOnce(ctx context.Context, job Job) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.logger.Info("scheduled run starting")
	if err := job(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("scheduled run finished", "duration", time.Since(start))
}

// Start starts the scheduler
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for a running job to return
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to cron's logger interface
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
