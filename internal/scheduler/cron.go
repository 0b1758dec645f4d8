package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule fires the pipeline every five minutes in continuous mode.
const DefaultSchedule = "@every 5m"

// RunFunc performs one pipeline pass.
type RunFunc func(ctx context.Context) error

// Service wraps robfig/cron and runs fn on a schedule. A tick that fires while
// the previous pass is still running is skipped.
type Service struct {
	cron   *cron.Cron
	spec   string
	fn     RunFunc
	logger *slog.Logger
}

// NewService creates a Service for the cron spec (e.g. "@every 5m", "*/10 * * * *").
func NewService(spec string, fn RunFunc, logger *slog.Logger) *Service {
	if spec == "" {
		spec = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cron: cron.New(), spec: spec, fn: fn, logger: logger}
}

// Run registers the job, fires one pass immediately, and blocks until ctx is done.
// In-flight passes see the cancellation through ctx and finish at a posting boundary.
func (s *Service) Run(ctx context.Context) error {
	job := cron.FuncJob(func() { s.tick(ctx) })
	wrapped := cron.SkipIfStillRunning(cron.DiscardLogger)(job)

	if _, err := s.cron.AddJob(s.spec, wrapped); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.spec)

	go wrapped.Run()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Service) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("pipeline pass started")
	if err := s.fn(ctx); err != nil {
		s.logger.Error("pipeline pass failed", "error", err)
		return
	}
	s.logger.Info("pipeline pass complete")
}
