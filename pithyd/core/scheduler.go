package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five field cron expressions and descriptors such as @every 5m.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return scheduleParser.Parse(expr)
}

type SweepEnqueuer interface {
	EnqueueSweep(ctx context.Context) (string, error)
}

// Scheduler enqueues a maintenance sweep on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewScheduler(expr string, queue SweepEnqueuer, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", expr, err)
	}
	c := cron.New(cron.WithParser(scheduleParser))
	c.Schedule(schedule, cron.FuncJob(func() {
		id, err := queue.EnqueueSweep(context.Background())
		if err != nil {
			logger.Error("failed to enqueue maintenance sweep", slog.String("error", err.Error()))
			return
		}
		logger.Debug("maintenance sweep enqueued", slog.String("job_task_id", id))
	}))
	return &Scheduler{cron: c, logger: logger}, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
