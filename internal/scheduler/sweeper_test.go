package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeFailer struct {
	cutoff time.Time
	n      int
	err    error
}

func (f *fakeFailer) FailStale(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestSweeper_Sweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeFailer{n: 2}
	s := NewSweeper(f, 30*time.Minute, nil)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Sweep() = %d, %v", n, err)
	}
	if want := now.Add(-30 * time.Minute); !f.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", f.cutoff, want)
	}

	f.err = errors.New("store down")
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Error("expected store error")
	}
}

func TestSweeper_Schedule(t *testing.T) {
	sched := NewScheduler(nil)
	s := NewSweeper(&fakeFailer{}, time.Minute, nil)

	if err := s.Schedule(sched, time.Minute); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if got := len(sched.Jobs()); got != 1 {
		t.Errorf("jobs = %d, want 1", got)
	}
	if err := s.Schedule(sched, time.Minute); err == nil {
		t.Error("duplicate tag should be rejected")
	}
	if err := sched.RemoveJob(SweeperTag); err != nil {
		t.Errorf("RemoveJob() error = %v", err)
	}
}
