// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Scheduler manages tagged interval jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.Logger
}

// NewScheduler creates a stopped scheduler running in UTC.
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{scheduler: s, ctx: ctx, cancel: cancel, log: log}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels running jobs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// ScheduleInterval runs job every duration. The job context is cancelled
// on Stop.
func (s *Scheduler) ScheduleInterval(tag string, every time.Duration, job func(ctx context.Context) error) error {
	_, err := s.scheduler.Every(every).Tag(tag).Do(func() {
		if err := job(s.ctx); err != nil {
			s.log.Error("Scheduled job failed", zap.String("job", tag), zap.Error(err))
		}
	})
	return err
}

// RemoveJob removes a scheduled job by tag.
func (s *Scheduler) RemoveJob(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

// Jobs returns the scheduled jobs.
func (s *Scheduler) Jobs() []*gocron.Job {
	return s.scheduler.Jobs()
}
