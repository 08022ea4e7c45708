/*
scheduler.go - Periodic overdue sweep

PURPOSE:
  Runs the overdue sweep on a fixed interval so pending installments whose
  due day has passed are marked overdue without anyone calling
  /api/admin/sweep.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - The sweep itself is idempotent, so overlapping with a manual sweep or a
    Lambda-triggered one is harmless

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/sweep.go: SweepOverdue
  - cmd/sweep_lambda: the same sweep on an EventBridge schedule
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/lease-engine/engine"
)

// Sweeper runs one overdue sweep.
type Sweeper interface {
	SweepOverdue(ctx context.Context) (engine.SweepResult, error)
}

// SweepScheduler runs the overdue sweep periodically.
type SweepScheduler struct {
	Sweeper  Sweeper
	Logger   *slog.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new scheduler.
func NewSweepScheduler(s Sweeper, logger *slog.Logger) *SweepScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepScheduler{
		Sweeper:  s,
		Logger:   logger,
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("sweep scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("sweep scheduler started", slog.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("sweep scheduler stopped")
}

func (s *SweepScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and logs its outcome.
func (s *SweepScheduler) RunNow(ctx context.Context) engine.SweepResult {
	res, err := s.Sweeper.SweepOverdue(ctx)
	if err != nil {
		s.Logger.ErrorContext(ctx, "overdue sweep failed", slog.Any("error", err))
	}
	return res
}
