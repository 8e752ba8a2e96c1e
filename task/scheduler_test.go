package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// Once a year at midnight, so only triggers start a run during a test.
const farSpec = "0 0 1 1 *"

func waitForState(t *testing.T, s *FetchScheduler, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := s.State(); got == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	got, _ := s.State()
	t.Fatalf("got state %s, wanted %s", got, want)
}

func startScheduler(t *testing.T, s *FetchScheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestNextRunUsesSchedulerTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := NewFetchScheduler(discard, "10 14 * * *", loc, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later the same day",
			now:  time.Date(2025, time.August, 7, 12, 0, 0, 0, time.UTC),
			want: time.Date(2025, time.August, 7, 12, 10, 0, 0, time.UTC),
		},
		{
			name: "already passed today",
			now:  time.Date(2025, time.August, 7, 12, 30, 0, 0, time.UTC),
			want: time.Date(2025, time.August, 8, 12, 10, 0, 0, time.UTC),
		},
		{
			name: "winter offset",
			now:  time.Date(2025, time.January, 7, 12, 0, 0, 0, time.UTC),
			want: time.Date(2025, time.January, 7, 13, 10, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.NextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("got %v, wanted %v", got.UTC(), tt.want)
			}
		})
	}
}

func TestNewFetchSchedulerRejectsBadSpec(t *testing.T) {
	if _, err := NewFetchScheduler(discard, "every day", time.UTC, nil); err == nil {
		t.Errorf("got no error, wanted one for an invalid cron spec")
	}
}

func TestTriggersDoNotOverlap(t *testing.T) {
	var running, runs, overlaps atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	s, err := NewFetchScheduler(discard, farSpec, time.UTC, func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer running.Add(-1)
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel, done := startScheduler(t, s)

	waitForState(t, s, StateSleeping)
	if _, next := s.State(); next.IsZero() {
		t.Errorf("got no next run while sleeping")
	}

	if !s.Trigger() {
		t.Fatalf("got a rejected trigger on an idle scheduler")
	}
	<-started
	if got, _ := s.State(); got != StateRunning {
		t.Errorf("got state %s, wanted %s", got, StateRunning)
	}

	if !s.Trigger() {
		t.Errorf("got a rejected trigger while running, wanted it queued")
	}
	if s.Trigger() {
		t.Errorf("got a second queued trigger, wanted it collapsed")
	}

	release <- struct{}{}
	<-started
	release <- struct{}{}

	waitForState(t, s, StateSleeping)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, wanted %v", err, context.Canceled)
	}
	if got, _ := s.State(); got != StateStopped {
		t.Errorf("got state %s, wanted %s", got, StateStopped)
	}
	if runs.Load() != 2 {
		t.Errorf("got %d runs, wanted 2", runs.Load())
	}
	if overlaps.Load() != 0 {
		t.Errorf("got %d overlapping runs, wanted 0", overlaps.Load())
	}
}

func TestCancelWhileRunning(t *testing.T) {
	started := make(chan struct{})
	s, err := NewFetchScheduler(discard, farSpec, time.UTC, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel, done := startScheduler(t, s)

	s.Trigger()
	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got error %v, wanted %v", err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop after cancellation")
	}
	if _, lastErr := s.LastRun(); !errors.Is(lastErr, context.Canceled) {
		t.Errorf("got last run error %v, wanted %v", lastErr, context.Canceled)
	}
}

func TestPanickingJobDoesNotStopScheduler(t *testing.T) {
	var runs atomic.Int32
	ran := make(chan struct{}, 2)
	s, err := NewFetchScheduler(discard, farSpec, time.UTC, func(ctx context.Context) error {
		defer func() { ran <- struct{}{} }()
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startScheduler(t, s)

	s.Trigger()
	<-ran
	waitForState(t, s, StateSleeping)
	if _, lastErr := s.LastRun(); lastErr == nil {
		t.Errorf("got no error from a panicking job")
	}

	s.Trigger()
	<-ran
	waitForState(t, s, StateSleeping)
	if _, lastErr := s.LastRun(); lastErr != nil {
		t.Errorf("got error %v after recovery, wanted none", lastErr)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle:     "IDLE",
		StateSleeping: "SLEEPING",
		StateRunning:  "RUNNING",
		StateStopped:  "STOPPED",
	} {
		if got := state.String(); got != want {
			t.Errorf("got %q, wanted %q", got, want)
		}
	}
}
