package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/pipeline"
)

// ErrCycleRunning is returned by Trigger while another cycle holds the slot.
var ErrCycleRunning = errors.New("a cycle is already running")

// Runner runs one cycle. *pipeline.Pipeline satisfies it.
type Runner interface {
	RunCycle(ctx context.Context) (pipeline.CycleReport, error)
}

// Scheduler drives cycles periodically and on demand. Only one cycle runs at a
// time; the periodic loop skips a tick instead of waiting for the slot.
type Scheduler struct {
	runner     Runner
	schedule   cron.Schedule
	interval   time.Duration
	check      time.Duration
	runOnStart bool
	logger     *slog.Logger
	now        func() time.Time

	slot sync.Mutex

	mu      sync.Mutex
	lastRun time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for due-time checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. cron.Every truncates the fetch interval to whole
// seconds with a one second minimum.
func New(runner Runner, cfg config.SchedulerConfig, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:     runner,
		schedule:   cron.Every(cfg.FetchInterval),
		interval:   cfg.FetchInterval,
		check:      cfg.CheckInterval,
		runOnStart: cfg.RunOnStart,
		logger:     logger,
		now:        time.Now,
	}
	if s.check <= 0 {
		s.check = 60 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the periodic loop and returns nil once ctx is cancelled. A cycle
// in flight finishes its current item before the loop notices.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler",
		"fetch_interval", s.interval.String(),
		"check_interval", s.check.String(),
		"run_on_start", s.runOnStart,
	)

	if s.runOnStart {
		s.runScheduled(ctx)
	} else {
		s.setLastRun(s.now())
	}

	ticker := time.NewTicker(s.check)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down scheduler")
			return nil
		case <-ticker.C:
			if s.Due() {
				s.runScheduled(ctx)
			}
		}
	}
}

// Trigger runs one cycle on the caller's goroutine. It does not move the
// periodic schedule.
func (s *Scheduler) Trigger(ctx context.Context) (pipeline.CycleReport, error) {
	if !s.slot.TryLock() {
		return pipeline.CycleReport{}, ErrCycleRunning
	}
	defer s.slot.Unlock()
	return s.run(ctx)
}

// ServeTriggers runs an on-demand cycle for every value received on requests
// until ctx is cancelled or requests is closed. A request that arrives while a
// cycle holds the slot is dropped and logged.
func (s *Scheduler) ServeTriggers(ctx context.Context, requests <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-requests:
			if !ok {
				return
			}
			s.logger.Info("on-demand cycle requested")
			report, err := s.Trigger(ctx)
			switch {
			case errors.Is(err, ErrCycleRunning):
				s.logger.Warn("on-demand cycle ignored, a cycle is already running")
			case err != nil && ctx.Err() == nil:
				s.logger.Error("on-demand cycle failed", "error", err)
			case err == nil:
				s.logger.Info("on-demand cycle finished",
					"cycle_id", report.CycleID,
					"inserted", report.Inserted,
					"analyzed", report.Analysis.Analyzed,
				)
			}
		}
	}
}

// Running reports whether a cycle currently holds the slot.
func (s *Scheduler) Running() bool {
	if s.slot.TryLock() {
		s.slot.Unlock()
		return false
	}
	return true
}

// NextRun is when the periodic loop will next start a cycle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.Next(s.lastRun)
}

// Due reports whether the next periodic run is at or before now.
func (s *Scheduler) Due() bool {
	return !s.NextRun().After(s.now())
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.slot.TryLock() {
		s.logger.Info("cycle still running, skipping tick")
		return
	}
	defer s.slot.Unlock()

	if _, err := s.run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("cycle failed, retrying at next scheduled run", "error", err)
	}
	s.setLastRun(s.now())
	s.logger.Info("next cycle scheduled", "at", s.NextRun().Format(time.RFC3339))
}

// run keeps a panicking cycle from taking the loop down with it.
func (s *Scheduler) run(ctx context.Context) (report pipeline.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return s.runner.RunCycle(ctx)
}

func (s *Scheduler) setLastRun(t time.Time) {
	s.mu.Lock()
	s.lastRun = t
	s.mu.Unlock()
}
