package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookIgnored   WebhookStatus = "ignored"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookResult is reported back to the provider. It is informational only;
// the endpoint always answers 200.
type WebhookResult struct {
	Status  WebhookStatus
	Event   EventType
	Message string
}

type CleanupEnqueuer interface {
	EnqueueCleanup(ctx context.Context, workspaceID string, reason CleanupReason) (string, error)
}

type WebhookHandler struct {
	tasks      *TaskManager
	workspaces *WorkspaceManager
	cleanup    CleanupEnqueuer
	policy     MaintenancePolicy
	snapshot   string
	logger     *slog.Logger
	now        func() time.Time
}

func NewWebhookHandler(tasks *TaskManager, workspaces *WorkspaceManager, cleanup CleanupEnqueuer, policy MaintenancePolicy, logger *slog.Logger, now func() time.Time) *WebhookHandler {
	if now == nil {
		now = time.Now
	}
	return &WebhookHandler{
		tasks:      tasks,
		workspaces: workspaces,
		cleanup:    cleanup,
		policy:     policy,
		snapshot:   workspaces.cfg.Snapshot,
		logger:     logger,
		now:        now,
	}
}

// errIgnored marks events that refer to state this deployment does not own.
var errIgnored = errors.New("ignored")

// Handle applies one webhook delivery. It never panics and never returns an error.
func (h *WebhookHandler) Handle(ctx context.Context, body []byte) (result WebhookResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("webhook handler panic",
				slog.Any("error", recovered),
				slog.String("stack", string(debug.Stack())),
			)
			result = WebhookResult{Status: WebhookFailed, Event: result.Event, Message: "internal error"}
		}
	}()

	event, err := ParseEvent(body)
	if err != nil {
		h.logger.Warn("rejected webhook", slog.String("error", err.Error()))
		return WebhookResult{Status: WebhookFailed, Message: err.Error()}
	}
	result.Event = event.Type()

	switch e := event.(type) {
	case WorkspaceCreated:
		err = h.onWorkspaceCreated(ctx, e)
	case WorkspaceStatusChanged:
		err = h.onWorkspaceStatus(ctx, e)
	case TaskProgress:
		err = h.onTaskProgress(ctx, e)
	case TaskCompleted:
		err = h.onTaskCompleted(ctx, e)
	case PullRequestCreated:
		err = h.onPullRequestCreated(ctx, e)
	case TaskFailed:
		err = h.onTaskFailed(ctx, e)
	default:
		err = fmt.Errorf("unhandled event %T", event)
	}

	logger := h.logger.With(slog.String("event", string(result.Event)))
	switch {
	case err == nil:
		result.Status = WebhookProcessed
	case errors.Is(err, errIgnored), errors.Is(err, db.ErrNotFound), errors.Is(err, ErrInvalidState):
		logger.Info("webhook ignored", slog.String("reason", err.Error()))
		result.Status = WebhookIgnored
		result.Message = err.Error()
	default:
		logger.Error("webhook processing failed", slog.String("error", err.Error()))
		result.Status = WebhookFailed
		result.Message = err.Error()
	}
	return result
}

// activeTask loads a task that may still be changed by the workspace.
func (h *WebhookHandler) activeTask(ctx context.Context, taskID string) (db.Task, error) {
	task, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		return db.Task{}, err
	}
	if task.Status == db.TaskStatusCancelled {
		return db.Task{}, fmt.Errorf("task %s is cancelled: %w", taskID, errIgnored)
	}
	return task, nil
}

func (h *WebhookHandler) onWorkspaceCreated(ctx context.Context, e WorkspaceCreated) error {
	task, err := h.activeTask(ctx, e.TaskID)
	if err != nil {
		return err
	}
	now := db.Millis(h.now())

	workspace, err := h.workspaces.GetByProviderID(ctx, e.ProviderID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		workspace = db.Workspace{
			ID:            db.NewID(),
			ProviderID:    e.ProviderID,
			Template:      h.snapshot,
			Status:        e.Status,
			AssignedTasks: []string{task.ID},
			CreatedAt:     now,
			LastUsedAt:    now,
		}
		if err := h.tasks.store.CreateWorkspace(ctx, workspace); err != nil {
			return fmt.Errorf("record workspace: %w", err)
		}
	case err != nil:
		return err
	default:
		if err := h.workspaces.UpdateStatus(ctx, workspace.ID, e.Status); err != nil {
			return err
		}
		if err := h.workspaces.AssignTask(ctx, workspace.ID, task.ID); err != nil && !errors.Is(err, ErrWorkspaceTerminated) {
			return err
		}
	}

	if task.Status == db.TaskStatusQueued {
		h.logger.Warn("workspace reported for a task that is not executing", slog.String("task_id", task.ID))
		return nil
	}
	if task.AssignedWorkspaceID != e.ProviderID {
		if _, err := h.tasks.store.PatchTask(ctx, task.ID, db.TaskPatch{
			AssignedWorkspaceID: db.Ptr(e.ProviderID),
			UpdatedAt:           now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebhookHandler) onWorkspaceStatus(ctx context.Context, e WorkspaceStatusChanged) error {
	workspace, err := h.workspaces.GetByProviderID(ctx, e.ProviderID)
	if err != nil {
		return err
	}
	return h.workspaces.UpdateStatus(ctx, workspace.ID, e.Status)
}

func (h *WebhookHandler) onTaskProgress(ctx context.Context, e TaskProgress) error {
	task, err := h.activeTask(ctx, e.TaskID)
	if err != nil {
		return err
	}
	payload := e.Message
	if len(e.Data) > 0 {
		structured := make(map[string]any, len(e.Data)+2)
		for key, value := range e.Data {
			structured[key] = value
		}
		if _, ok := structured["type"]; !ok {
			structured["type"] = "progress"
		}
		structured["message"] = e.Message
		encoded, err := json.Marshal(structured)
		if err != nil {
			return fmt.Errorf("encode progress data: %w", err)
		}
		payload = string(encoded)
	}
	_, err = h.tasks.AppendLog(ctx, db.ExecutionLog{
		TaskID:      task.ID,
		WorkspaceID: firstNonEmpty(e.ProviderID, task.AssignedWorkspaceID),
		Status:      db.LogStatusRunning,
		Payload:     payload,
	})
	return err
}

func (h *WebhookHandler) onTaskCompleted(ctx context.Context, e TaskCompleted) error {
	before, err := h.activeTask(ctx, e.TaskID)
	if err != nil {
		return err
	}

	outcome := e.Outcome
	if outcome == OutcomeFailure && e.Error != "" && ClassifyFailure("", e.Error, "") == db.TaskStatusNeedsReview {
		outcome = OutcomeReviewNeeded
	}
	task, err := h.tasks.RecordCompletion(ctx, CompletionParams{
		TaskID:          before.ID,
		Outcome:         outcome,
		BranchName:      e.BranchName,
		MergeRequestURL: e.MergeRequestURL,
	})
	if err != nil {
		return err
	}

	entry := db.ExecutionLog{
		TaskID:      task.ID,
		WorkspaceID: firstNonEmpty(e.ProviderID, task.AssignedWorkspaceID),
		Status:      db.LogStatusFailed,
		Payload:     "Task completed with status: " + firstNonEmpty(e.ReportedStatus, "unknown"),
	}
	if e.Outcome == OutcomeSuccess {
		entry.Status = db.LogStatusCompleted
		entry.Payload = "Task completed successfully. PR: " + firstNonEmpty(task.MergeRequestURL, "N/A")
	} else if e.Error != "" {
		entry.Error = truncateLog(e.Error)
	}
	if _, err := h.tasks.AppendLog(ctx, entry); err != nil {
		h.logger.Error("failed to append completion log", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}

	reason := ReasonTaskFailed
	if task.Status == db.TaskStatusCompleted {
		reason = ReasonTaskCompleted
	}
	h.stopWorkspace(ctx, before, firstNonEmpty(e.ProviderID, task.AssignedWorkspaceID), task.Status, reason)
	return nil
}

func (h *WebhookHandler) onPullRequestCreated(ctx context.Context, e PullRequestCreated) error {
	workspace, err := h.workspaces.GetByProviderID(ctx, e.ProviderID)
	if err != nil {
		return err
	}
	if !workspace.HasTask(e.TaskID) {
		return fmt.Errorf("task %s is not assigned to workspace %s: %w", e.TaskID, e.ProviderID, errIgnored)
	}
	if _, err := h.activeTask(ctx, e.TaskID); err != nil {
		return err
	}
	_, err = h.tasks.MarkNeedsReview(ctx, e.TaskID, e.BranchName, e.MergeRequestURL)
	return err
}

func (h *WebhookHandler) onTaskFailed(ctx context.Context, e TaskFailed) error {
	before, err := h.activeTask(ctx, e.TaskID)
	if err != nil {
		return err
	}

	outcome := OutcomeFailure
	if ClassifyFailure(e.Category, e.Error, e.Details) == db.TaskStatusNeedsReview {
		outcome = OutcomeReviewNeeded
	}
	task, err := h.tasks.RecordCompletion(ctx, CompletionParams{TaskID: before.ID, Outcome: outcome})
	if err != nil {
		return err
	}

	full := FailureLog(e.Error, e.Details)
	if _, err := h.tasks.AppendLog(ctx, db.ExecutionLog{
		TaskID:      task.ID,
		WorkspaceID: firstNonEmpty(e.ProviderID, task.AssignedWorkspaceID),
		Status:      db.LogStatusFailed,
		Payload:     full,
		Error:       full,
	}); err != nil {
		h.logger.Error("failed to append failure log", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}

	// A needs_review failure still uses the failed grace period.
	h.stopWorkspace(ctx, before, firstNonEmpty(e.ProviderID, task.AssignedWorkspaceID), db.TaskStatusFailed, ReasonTaskFailed)
	return nil
}

// stopWorkspace marks the task's workspace stopped and queues its cleanup when
// the task has been running for longer than the grace period.
func (h *WebhookHandler) stopWorkspace(ctx context.Context, before db.Task, providerID string, status db.TaskStatus, reason CleanupReason) {
	logger := h.logger.With(slog.String("task_id", before.ID), slog.String("provider_id", providerID))
	if providerID == "" {
		logger.Debug("no workspace to stop")
		return
	}
	workspace, err := h.workspaces.GetByProviderID(ctx, providerID)
	if err != nil {
		logger.Info("workspace not found, skipping stop", slog.String("error", err.Error()))
		return
	}
	if err := h.workspaces.UpdateStatus(ctx, workspace.ID, db.WorkspaceStatusStopped); err != nil {
		logger.Error("failed to stop workspace", slog.String("error", err.Error()))
		return
	}

	if !h.policy.Enabled || h.cleanup == nil {
		return
	}
	if elapsed(h.now(), before.UpdatedAt) < h.policy.GracePeriod(status) {
		return
	}
	id, err := h.cleanup.EnqueueCleanup(ctx, workspace.ID, reason)
	if err != nil {
		logger.Error("failed to enqueue workspace cleanup", slog.String("error", err.Error()))
		return
	}
	logger.Info("workspace cleanup enqueued", slog.String("job_task_id", id), slog.String("reason", string(reason)))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
