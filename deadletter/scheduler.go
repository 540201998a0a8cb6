package deadletter

import (
	"context"
	"errors"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"

	"github.com/coinhaven/depositd/core"
)

// Scheduler triggers the retry loop and the expiry sweep on cron
// schedules. Overlap protection lives in the queue's single-flight guard,
// so a slow batch simply makes the next tick a no-op.
type Scheduler struct {
	cron   *cron.Cron
	queue  *Queue
	logger core.Logger
}

func NewScheduler(queue *Queue, retrySchedule string, sweepSchedule string, logger core.Logger) (*Scheduler, error) {
	if queue == nil {
		return nil, fmt.Errorf("deadletter: queue is required")
	}
	scheduler := &Scheduler{
		cron:   cron.New(),
		queue:  queue,
		logger: glog.Ensure(logger),
	}

	if retrySchedule != "" {
		if _, err := scheduler.cron.AddFunc(retrySchedule, scheduler.runRetryBatch); err != nil {
			return nil, fmt.Errorf("deadletter: invalid retry schedule %q: %w", retrySchedule, err)
		}
	}
	if sweepSchedule != "" {
		if _, err := scheduler.cron.AddFunc(sweepSchedule, scheduler.runSweep); err != nil {
			return nil, fmt.Errorf("deadletter: invalid sweep schedule %q: %w", sweepSchedule, err)
		}
	}
	return scheduler, nil
}

func (s *Scheduler) Start() {
	if s == nil || s.cron == nil {
		return
	}
	s.cron.Start()
}

// Stop halts scheduling and returns a context that completes when any
// running job finishes.
func (s *Scheduler) Stop() context.Context {
	if s == nil || s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

func (s *Scheduler) runRetryBatch() {
	ctx := context.Background()
	summary, err := s.queue.ProcessDue(ctx)
	if err != nil {
		if errors.Is(err, ErrBatchInFlight) {
			s.logger.Debug("skipping retry tick, batch still running")
			return
		}
		s.logger.Error("scheduled retry batch failed", "error", err.Error())
		return
	}
	if summary.Claimed > 0 {
		s.logger.Debug("scheduled retry batch complete",
			"claimed", summary.Claimed,
			"succeeded", summary.Succeeded,
		)
	}
}

func (s *Scheduler) runSweep() {
	if _, err := s.queue.SweepExpired(context.Background()); err != nil {
		s.logger.Error("scheduled expiry sweep failed", "error", err.Error())
	}
}
