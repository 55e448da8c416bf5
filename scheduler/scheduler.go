// Package scheduler triggers the daily processing cycle at a fixed local
// time. A cycle either completes or is abandoned; the next run is scheduled
// regardless of the previous outcome.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// CycleRunner is the single entry point invoked on each tick.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// Config configures the cycle scheduler.
type Config struct {
	Runner    CycleRunner
	RunHour   int
	RunMinute int
	Location  *time.Location
	Logger    *slog.Logger
}

// Scheduler executes the processing cycle on a fixed daily cadence.
type Scheduler struct {
	runner    CycleRunner
	runHour   int
	runMinute int
	location  *time.Location
	logger    *slog.Logger
}

// New constructs a scheduler with sane defaults.
func New(cfg Config) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:    cfg.Runner,
		runHour:   clampHour(cfg.RunHour),
		runMinute: clampMinute(cfg.RunMinute),
		location:  loc,
		logger:    logger,
	}
}

// Start begins the scheduling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	for {
		now := time.Now().In(s.location)
		next := s.nextRun(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.runner.RunCycle(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduled cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Scheduler) nextRun(after time.Time) time.Time {
	target := time.Date(after.Year(), after.Month(), after.Day(), s.runHour, s.runMinute, 0, 0, s.location)
	if !target.After(after) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

func clampHour(hour int) int {
	if hour < 0 {
		return 0
	}
	if hour > 23 {
		return 23
	}
	return hour
}

func clampMinute(minute int) int {
	if minute < 0 {
		return 0
	}
	if minute > 59 {
		return 59
	}
	return minute
}
