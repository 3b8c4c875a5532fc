package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/parsers/zjson"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/tasky"
)

type Jobs string

const (
	JobCleanupWorkspace Jobs = "cleanup-workspace"
	JobMaintenanceSweep Jobs = "maintenance-sweep"
)

type CleanupPayload struct {
	WorkspaceID string `json:"workspaceId" zog:"workspaceId"`
	Reason      string `json:"reason" zog:"reason"`
}

var cleanupPayloadSchema = z.Struct(z.Shape{
	"WorkspaceID": z.String().Required().Trim(),
	"Reason": z.String().Required().OneOf([]string{
		string(ReasonTaskCompleted),
		string(ReasonTaskFailed),
		string(ReasonIdleTimeout),
		string(ReasonOrphaned),
	}),
})

// JobQueue hands maintenance work to background consumers.
type JobQueue struct {
	queue  *tasky.Queue[Jobs]
	logger *slog.Logger
}

func NewJobQueue(backend tasky.Backend[Jobs], engine *MaintenanceEngine, logger *slog.Logger) (*JobQueue, error) {
	cleanupJob := tasky.NewJob(JobCleanupWorkspace, tasky.JobConfig[Jobs]{
		Priority: 10,
		Run: func(ctx context.Context, task *tasky.Task[Jobs]) error {
			logger := logger.With(slog.String("job_task_id", task.TaskID), slog.String("job_id", string(task.JobID)))
			payload := CleanupPayload{}
			if issues := cleanupPayloadSchema.Parse(zjson.Decode(bytes.NewReader(task.Payload)), &payload); len(issues) > 0 {
				// Retrying a malformed payload cannot succeed.
				logger.Error("dropping cleanup job with invalid payload", slog.Any("issues", z.Issues.Flatten(issues)))
				return nil
			}
			result, err := engine.CleanupByID(ctx, payload.WorkspaceID, CleanupReason(payload.Reason))
			if err != nil {
				return fmt.Errorf("cleanup workspace %s: %w", payload.WorkspaceID, err)
			}
			logger.Debug("cleanup job finished", slog.String("reason", result.Reason))
			return nil
		},
	})

	sweepJob := tasky.NewJob(JobMaintenanceSweep, tasky.JobConfig[Jobs]{
		Run: func(ctx context.Context, task *tasky.Task[Jobs]) error {
			summary := engine.Sweep(ctx)
			logger.Info("maintenance sweep finished",
				slog.String("job_task_id", task.TaskID),
				slog.Int("reconciled", summary.Reconciliation.Reconciled),
				slog.Int("processed", summary.Cleanup.Processed),
				slog.Int("terminated", summary.Cleanup.Terminated),
				slog.Int("errors", summary.Cleanup.Errors+summary.Reconciliation.Errors),
			)
			return nil
		},
	})

	queue, err := tasky.NewQueue(tasky.QueueConfig[Jobs]{
		Jobs:    []tasky.Job[Jobs]{cleanupJob, sweepJob},
		Backend: backend,
		OnError: func(err error, task *tasky.Task[Jobs]) error {
			if task == nil {
				logger.Error("queue error", slog.String("error", err.Error()))
				return nil
			}
			logger.Error("job failed",
				slog.String("job_task_id", task.TaskID),
				slog.String("job_id", string(task.JobID)),
				slog.String("error", err.Error()),
			)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &JobQueue{queue: queue, logger: logger}, nil
}

func (q *JobQueue) EnqueueCleanup(ctx context.Context, workspaceID string, reason CleanupReason) (tasky.TaskID, error) {
	payload, err := json.Marshal(CleanupPayload{WorkspaceID: workspaceID, Reason: string(reason)})
	if err != nil {
		return "", err
	}
	return q.queue.Enqueue(ctx, tasky.NewTask(JobCleanupWorkspace, payload))
}

func (q *JobQueue) EnqueueSweep(ctx context.Context) (tasky.TaskID, error) {
	return q.queue.Enqueue(ctx, tasky.NewTask(JobMaintenanceSweep, []byte("{}")))
}

// Consume runs workers until ctx is cancelled.
func (q *JobQueue) Consume(ctx context.Context, workers int) error {
	return tasky.NewConsumer(q.queue, tasky.ConsumerOptions{Workers: workers}).Run(ctx)
}
