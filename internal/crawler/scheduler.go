package crawler

import (
	"context"
	"log/slog"
	"time"
)

type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// Scheduler triggers a crawl run once at start and then on every tick.
// Runs never overlap; ticks that arrive during a run are dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   slog.Default().With("component", "crawl-scheduler"),
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("crawl scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx)
	for {
		select {
		case <-ticker.C:
			s.trigger(ctx)
		case <-ctx.Done():
			s.logger.Info("crawl scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled crawl run failed", "error", err)
	}
}
