package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rsilveira/streamcast/internal/model"
)

// SweeperConfig holds recovery sweep settings.
type SweeperConfig struct {
	Interval    time.Duration
	Window      time.Duration
	Concurrency int
}

// Sweeper periodically scans for active schedules whose start fire time passed
// without taking effect, typically because the in-memory triggers were lost to
// a restart, and re-drives them through the normal start path. The conditional
// session transition makes overlapping executions safe.
type Sweeper struct {
	scheduler *Scheduler
	store     ScheduleStore
	interval  time.Duration
	window    time.Duration
	ticker    *time.Ticker
	stopChan  chan struct{}
	wg        sync.WaitGroup
	semaphore chan struct{} // Limits concurrent recovery executions
}

// NewSweeper creates a recovery sweeper.
func NewSweeper(scheduler *Scheduler, store ScheduleStore, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	return &Sweeper{
		scheduler: scheduler,
		store:     store,
		interval:  cfg.Interval,
		window:    cfg.Window,
		stopChan:  make(chan struct{}),
		semaphore: make(chan struct{}, cfg.Concurrency),
	}
}

// Start begins the sweep tick loop.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Starting recovery sweeper",
		"interval", s.interval,
		"window", s.window,
	)

	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)

	go s.run(ctx)
}

// Stop gracefully stops the sweeper, waiting for in-flight recoveries until
// the context expires.
func (s *Sweeper) Stop(ctx context.Context) {
	slog.Info("Stopping recovery sweeper")

	close(s.stopChan)

	if s.ticker != nil {
		s.ticker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All recovery executions completed")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for recovery executions to complete")
	}
}

// run is the main sweep loop.
func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	// Sweep immediately on start to catch runs missed while down
	s.sweep(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("Recovery sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("Recovery sweeper context done")
			return
		}
	}
}

// sweep processes one recovery pass over the lookback window.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	from := now.Add(-s.window)

	schedules, err := s.store.FindDueForRecovery(ctx, from, now)
	if err != nil {
		slog.Error("Failed to find schedules due for recovery", "error", err)
		return
	}

	if len(schedules) == 0 {
		return
	}

	slog.Info("Found missed schedule runs", "count", len(schedules))

	for i := range schedules {
		s.wg.Add(1)
		go s.recover(ctx, schedules[i])
	}
}

// recover re-drives one missed schedule through the normal start path.
func (s *Sweeper) recover(ctx context.Context, schedule model.Schedule) {
	defer s.wg.Done()

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-s.stopChan:
		return
	case <-ctx.Done():
		return
	}

	slog.Warn("Recovering missed schedule run",
		"schedule_id", schedule.ID.Hex(),
		"session_id", schedule.SessionID.Hex(),
		"next_run", schedule.NextRun.Format(time.RFC3339),
	)

	s.scheduler.fireStart(schedule.ID.Hex())
}
