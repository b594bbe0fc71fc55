package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const SweeperTag = "stale-run-sweeper"

// StaleFailer fails documents stuck in processing since before cutoff.
type StaleFailer interface {
	FailStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper marks abandoned runs failed so their chunks are removed.
type Sweeper struct {
	tracker    StaleFailer
	staleAfter time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func NewSweeper(tracker StaleFailer, staleAfter time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{tracker: tracker, staleAfter: staleAfter, now: time.Now, log: log}
}

// Sweep runs one pass and returns how many documents were failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	n, err := s.tracker.FailStale(ctx, cutoff)
	if n > 0 {
		s.log.Warn("Failed stale processing runs", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, err
}

// Schedule registers the sweeper on sched.
func (s *Sweeper) Schedule(sched *Scheduler, every time.Duration) error {
	return sched.ScheduleInterval(SweeperTag, every, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}
