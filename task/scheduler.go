package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type State int

const (
	StateIdle State = iota
	StateSleeping
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSleeping:
		return "SLEEPING"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Job func(ctx context.Context) error

// FetchScheduler runs a job on a cron schedule, one run at a time. It moves
// IDLE -> SLEEPING -> RUNNING -> IDLE and ends in STOPPED when its context
// is cancelled.
type FetchScheduler struct {
	logger   *slog.Logger
	schedule cron.Schedule
	loc      *time.Location
	job      Job
	trigger  chan struct{}

	mu      sync.Mutex
	state   State
	nextRun time.Time
	lastRun time.Time
	lastErr error
}

func NewFetchScheduler(logger *slog.Logger, spec string, loc *time.Location, job Job) (*FetchScheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &FetchScheduler{
		logger:   logger.With(slog.String("task", "fetch_scheduler")),
		schedule: schedule,
		loc:      loc,
		job:      job,
		trigger:  make(chan struct{}, 1),
		state:    StateIdle,
	}, nil
}

// NextRun is the first scheduled run strictly after now, on the wall clock
// of the scheduler's location.
func (s *FetchScheduler) NextRun(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.loc))
}

func (s *FetchScheduler) State() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.nextRun
}

// LastRun is when the last job finished and what it returned.
func (s *FetchScheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *FetchScheduler) setState(state State, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.nextRun = next
}

// Trigger asks for a run as soon as the scheduler is free. Triggers made
// while a run is in flight collapse into one follow-up run. It returns false
// when a run was already pending.
func (s *FetchScheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is cancelled. A failing job is logged and retried at
// the next scheduled time only.
func (s *FetchScheduler) Run(ctx context.Context) error {
	defer s.setState(StateStopped, time.Time{})

	for {
		s.setState(StateIdle, time.Time{})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		next := s.NextRun(time.Now())
		s.setState(StateSleeping, next)
		s.logger.Debug("waiting for next fetch", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			s.logger.Debug("fetch triggered manually")
		}

		s.setState(StateRunning, time.Time{})
		s.runJob(ctx)
	}
}

func (s *FetchScheduler) runJob(ctx context.Context) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("fetch job panicked: %v", r)
			}
		}()
		return s.job(ctx)
	}()

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("fetch job failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
		return
	}
	s.logger.Info("fetch job done", slog.Duration("duration", time.Since(start)))
}
