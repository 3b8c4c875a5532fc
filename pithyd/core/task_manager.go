package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/remote"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeReviewNeeded Outcome = "review-needed"
	OutcomeFailure      Outcome = "failure"
)

func (o Outcome) Status() (db.TaskStatus, bool) {
	switch o {
	case OutcomeSuccess:
		return db.TaskStatusCompleted, true
	case OutcomeReviewNeeded:
		return db.TaskStatusNeedsReview, true
	case OutcomeFailure:
		return db.TaskStatusFailed, true
	}
	return "", false
}

// TaskDefaults fill the model preference of new tasks.
type TaskDefaults struct {
	ModelProvider string
	Model         string
}

type CreateTaskParams struct {
	OwnerID       string
	RepoID        string
	RepoURL       string
	BaseBranch    string
	Title         string
	Description   string
	Priority      db.TaskPriority
	Initiator     db.TaskInitiator
	ModelProvider string
	Model         string
}

type ExecuteOptions struct {
	KeepWorkspaceAlive bool
}

type ExecutionResult struct {
	Task      db.Task
	Workspace db.Workspace
}

type CompletionParams struct {
	TaskID          string
	Outcome         Outcome
	BranchName      string
	MergeRequestURL string
}

type CancelOptions struct {
	TerminateWorkspace bool
}

type TaskManager struct {
	store      db.Store
	workspaces *WorkspaceManager
	merger     remote.Merger
	defaults   TaskDefaults
	logger     *slog.Logger
	now        func() time.Time
}

func NewTaskManager(store db.Store, workspaces *WorkspaceManager, merger remote.Merger, defaults TaskDefaults, logger *slog.Logger, now func() time.Time) *TaskManager {
	if now == nil {
		now = time.Now
	}
	return &TaskManager{
		store:      store,
		workspaces: workspaces,
		merger:     merger,
		defaults:   defaults,
		logger:     logger,
		now:        now,
	}
}

func (m *TaskManager) Create(ctx context.Context, params CreateTaskParams) (db.Task, error) {
	missing := []string{}
	for name, value := range map[string]string{
		"ownerId": params.OwnerID,
		"repoId":  params.RepoID,
		"repoUrl": params.RepoURL,
		"title":   params.Title,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return db.Task{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	now := db.Millis(m.now())
	task := db.Task{
		ID:            db.NewID(),
		OwnerID:       params.OwnerID,
		RepoID:        params.RepoID,
		RepoURL:       params.RepoURL,
		BaseBranch:    params.BaseBranch,
		Title:         params.Title,
		Description:   params.Description,
		Priority:      params.Priority,
		Initiator:     params.Initiator,
		ModelProvider: params.ModelProvider,
		Model:         params.Model,
		Status:        db.TaskStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if task.BaseBranch == "" {
		task.BaseBranch = "main"
	}
	if task.Priority == "" {
		task.Priority = db.TaskPriorityNormal
	}
	if task.Initiator == "" {
		task.Initiator = db.TaskInitiatorUser
	}
	if task.ModelProvider == "" {
		task.ModelProvider = m.defaults.ModelProvider
	}
	if task.Model == "" {
		task.Model = m.defaults.Model
	}

	if err := m.store.CreateTask(ctx, task); err != nil {
		return db.Task{}, err
	}
	m.logger.Info("task created", slog.String("task_id", task.ID), slog.String("owner_id", task.OwnerID))
	return task, nil
}

func (m *TaskManager) Get(ctx context.Context, taskID string) (db.Task, error) {
	return m.store.GetTask(ctx, taskID)
}

// GetOwned loads a task and checks that actorID owns it.
func (m *TaskManager) GetOwned(ctx context.Context, taskID, actorID string) (db.Task, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return db.Task{}, err
	}
	if task.OwnerID != actorID {
		return db.Task{}, fmt.Errorf("%w: task %s belongs to another user", ErrForbidden, taskID)
	}
	return task, nil
}

func (m *TaskManager) ListByOwner(ctx context.Context, ownerID string) ([]db.Task, error) {
	return m.store.ListTasksByOwner(ctx, ownerID)
}

// RequestExecution moves a queued or needs_review task to running and provisions
// a workspace for it. A provisioning failure leaves the task failed.
func (m *TaskManager) RequestExecution(ctx context.Context, taskID, actorID string, opts ExecuteOptions) (ExecutionResult, error) {
	task, err := m.GetOwned(ctx, taskID, actorID)
	if err != nil {
		return ExecutionResult{}, err
	}
	logger := m.logger.With(slog.String("task_id", taskID))

	previous := task.Status
	task, err = m.store.TransitionTask(ctx, taskID, db.TaskStatusRunning, db.Millis(m.now()),
		db.TaskStatusQueued, db.TaskStatusNeedsReview)
	if errors.Is(err, db.ErrStatusConflict) {
		return ExecutionResult{Task: task}, invalidState("executed", task.Status)
	}
	if err != nil {
		return ExecutionResult{}, err
	}
	patch := db.TaskPatch{UpdatedAt: db.Millis(m.now())}
	if opts.KeepWorkspaceAlive != task.KeepWorkspaceAlive {
		patch.KeepWorkspaceAlive = &opts.KeepWorkspaceAlive
	}
	if previous == db.TaskStatusNeedsReview && task.MergeRequestURL != "" {
		patch.MergeRequestURL = db.Ptr("")
	}
	if patch.KeepWorkspaceAlive != nil || patch.MergeRequestURL != nil {
		patched, err := m.store.PatchTask(ctx, taskID, patch)
		if err != nil {
			logger.Error("failed to update task before provisioning", slog.String("error", err.Error()))
		} else {
			task = patched
		}
	}

	workspace, provisionErr := m.workspaces.Provision(ctx, task, ProvisionOptions{KeepAlive: opts.KeepWorkspaceAlive})
	if provisionErr != nil {
		logger.Error("provisioning failed", slog.String("error", provisionErr.Error()))
		failed, err := m.store.TransitionTask(ctx, taskID, db.TaskStatusFailed, db.Millis(m.now()), db.TaskStatusRunning)
		if err != nil {
			logger.Error("failed to mark task failed", slog.String("error", err.Error()))
		}
		m.appendLog(ctx, db.ExecutionLog{
			TaskID:  taskID,
			Status:  db.LogStatusFailed,
			Payload: "Workspace provisioning failed: " + provisionErr.Error(),
			Error:   provisionErr.Error(),
		})
		return ExecutionResult{Task: failed}, provisionErr
	}

	m.appendLog(ctx, db.ExecutionLog{
		TaskID:      taskID,
		WorkspaceID: workspace.ProviderID,
		Status:      db.LogStatusRunning,
		Payload:     "Execution started in workspace " + workspace.ProviderID,
	})
	if task, err = m.store.GetTask(ctx, taskID); err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{Task: task, Workspace: workspace}, nil
}

// RecordCompletion applies a reported execution outcome. Branch and merge request
// fields are only written when provided. Repeating an outcome is a no-op.
func (m *TaskManager) RecordCompletion(ctx context.Context, params CompletionParams) (db.Task, error) {
	target, ok := params.Outcome.Status()
	if !ok {
		return db.Task{}, fmt.Errorf("%w: unknown outcome %q", ErrValidation, params.Outcome)
	}
	task, err := m.store.GetTask(ctx, params.TaskID)
	if err != nil {
		return db.Task{}, err
	}

	if task.Status != target {
		task, err = m.store.TransitionTask(ctx, task.ID, target, db.Millis(m.now()), target.Sources()...)
		if errors.Is(err, db.ErrStatusConflict) {
			return task, invalidState("completed", task.Status)
		}
		if err != nil {
			return db.Task{}, err
		}
	}
	return m.patchResultFields(ctx, task, params.BranchName, params.MergeRequestURL)
}

func (m *TaskManager) patchResultFields(ctx context.Context, task db.Task, branchName, mergeRequestURL string) (db.Task, error) {
	patch := db.TaskPatch{UpdatedAt: db.Millis(m.now())}
	if branchName != "" && branchName != task.BranchName {
		patch.BranchName = db.Ptr(branchName)
	}
	if mergeRequestURL != "" && mergeRequestURL != task.MergeRequestURL {
		patch.MergeRequestURL = db.Ptr(mergeRequestURL)
	}
	if patch.BranchName == nil && patch.MergeRequestURL == nil {
		return task, nil
	}
	return m.store.PatchTask(ctx, task.ID, patch)
}

// MarkNeedsReview moves a running task to needs_review and records its pull request.
func (m *TaskManager) MarkNeedsReview(ctx context.Context, taskID, branchName, mergeRequestURL string) (db.Task, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return db.Task{}, err
	}
	if task.Status != db.TaskStatusNeedsReview {
		task, err = m.store.TransitionTask(ctx, taskID, db.TaskStatusNeedsReview, db.Millis(m.now()), db.TaskStatusRunning)
		if errors.Is(err, db.ErrStatusConflict) {
			return task, invalidState("sent to review", task.Status)
		}
		if err != nil {
			return db.Task{}, err
		}
	}
	return m.patchResultFields(ctx, task, branchName, mergeRequestURL)
}

// SyncResult lists what SyncStatus changed and what it could not check.
type SyncResult struct {
	Task    db.Task
	Updates []string
	Errors  []string
}

// SyncStatus pulls the provider status of the task's workspace. A running task
// whose workspace is stopped or terminated is marked failed.
func (m *TaskManager) SyncStatus(ctx context.Context, taskID, actorID string) (SyncResult, error) {
	task, err := m.GetOwned(ctx, taskID, actorID)
	if err != nil {
		return SyncResult{}, err
	}
	result := SyncResult{Task: task, Updates: []string{}, Errors: []string{}}
	if task.AssignedWorkspaceID == "" {
		result.Errors = append(result.Errors, "No workspace assigned to task")
		return result, nil
	}
	logger := m.logger.With(slog.String("task_id", taskID), slog.String("provider_id", task.AssignedWorkspaceID))

	status, err := m.workspaces.Refresh(ctx, task.AssignedWorkspaceID)
	if err != nil {
		logger.Warn("status sync failed", slog.String("error", err.Error()))
		result.Errors = append(result.Errors, "Failed to check workspace status: "+err.Error())
		return result, nil
	}
	result.Updates = append(result.Updates, "Workspace status updated to: "+string(status))

	if task.Status != db.TaskStatusRunning || (status != db.WorkspaceStatusStopped && status != db.WorkspaceStatusTerminated) {
		return result, nil
	}
	failed, err := m.store.TransitionTask(ctx, taskID, db.TaskStatusFailed, db.Millis(m.now()), db.TaskStatusRunning)
	if errors.Is(err, db.ErrStatusConflict) {
		result.Task = failed
		return result, nil
	}
	if err != nil {
		return result, err
	}
	result.Task = failed
	result.Updates = append(result.Updates, "Task marked as failed (workspace "+string(status)+")")
	m.appendLog(ctx, db.ExecutionLog{
		TaskID:      taskID,
		WorkspaceID: task.AssignedWorkspaceID,
		Status:      db.LogStatusFailed,
		Payload:     "Workspace " + task.AssignedWorkspaceID + " is " + string(status) + "; task marked failed",
		Error:       "workspace " + string(status),
	})
	logger.Info("task failed by status sync", slog.String("workspace_status", string(status)))
	return result, nil
}

// Cancel stops tracking a queued or running task. The remote execution is not
// halted; late webhooks for the task are ignored.
func (m *TaskManager) Cancel(ctx context.Context, taskID, actorID string, opts CancelOptions) (db.Task, error) {
	task, err := m.GetOwned(ctx, taskID, actorID)
	if err != nil {
		return db.Task{}, err
	}
	providerID := task.AssignedWorkspaceID

	task, err = m.store.TransitionTask(ctx, taskID, db.TaskStatusCancelled, db.Millis(m.now()),
		db.TaskStatusQueued, db.TaskStatusRunning)
	if errors.Is(err, db.ErrStatusConflict) {
		return task, invalidState("cancelled", task.Status)
	}
	if err != nil {
		return db.Task{}, err
	}
	logger := m.logger.With(slog.String("task_id", taskID))

	if providerID != "" {
		if task, err = m.store.PatchTask(ctx, taskID, db.TaskPatch{
			AssignedWorkspaceID: db.Ptr(""),
			UpdatedAt:           db.Millis(m.now()),
		}); err != nil {
			return db.Task{}, err
		}
		if opts.TerminateWorkspace {
			if workspace, err := m.workspaces.GetByProviderID(ctx, providerID); err != nil {
				logger.Warn("workspace not found for cancelled task", slog.String("provider_id", providerID))
			} else if _, err := m.workspaces.terminate(ctx, workspace); err != nil {
				logger.Error("failed to terminate workspace", slog.String("error", err.Error()))
			}
		}
	}

	m.appendLog(ctx, db.ExecutionLog{
		TaskID:      taskID,
		WorkspaceID: providerID,
		Status:      db.LogStatusCompleted,
		Payload:     "Task cancelled",
	})
	logger.Info("task cancelled")
	return task, nil
}

// ApproveAndMerge merges the task's pull request. The task status is left as is;
// the attempt is recorded as an execution log.
func (m *TaskManager) ApproveAndMerge(ctx context.Context, taskID, actorID string, method remote.MergeMethod) (remote.MergeResult, error) {
	if method == "" {
		method = remote.MergeMethodSquash
	}
	if !method.Valid() {
		return remote.MergeResult{}, fmt.Errorf("%w: unknown merge method %q", ErrValidation, method)
	}
	task, err := m.GetOwned(ctx, taskID, actorID)
	if err != nil {
		return remote.MergeResult{}, err
	}
	if task.Status != db.TaskStatusCompleted {
		return remote.MergeResult{}, invalidState("approved", task.Status)
	}
	if task.MergeRequestURL == "" {
		return remote.MergeResult{}, fmt.Errorf("%w: task has no merge request", ErrMergeUnavailable)
	}
	if m.merger == nil {
		return remote.MergeResult{}, fmt.Errorf("%w: no code host configured", ErrMergeUnavailable)
	}
	pr, err := remote.ParsePullRequestURL(task.MergeRequestURL)
	if err != nil {
		return remote.MergeResult{}, fmt.Errorf("%w: %w", ErrMergeUnavailable, err)
	}

	result, err := m.merger.Merge(ctx, pr, method)
	if err != nil {
		m.appendLog(ctx, db.ExecutionLog{
			TaskID:      taskID,
			WorkspaceID: task.AssignedWorkspaceID,
			Status:      db.LogStatusFailed,
			Payload:     "Merge failed: " + err.Error(),
			Error:       err.Error(),
		})
		return remote.MergeResult{}, fmt.Errorf("merge %s: %w", task.MergeRequestURL, err)
	}

	entry := db.ExecutionLog{
		TaskID:      taskID,
		WorkspaceID: task.AssignedWorkspaceID,
		Status:      db.LogStatusCompleted,
		Payload:     fmt.Sprintf("Pull request merged (%s): %s", method, result.SHA),
	}
	if !result.Merged {
		entry.Status = db.LogStatusFailed
		entry.Payload = "Pull request not merged: " + result.Message
	}
	m.appendLog(ctx, entry)
	return result, nil
}

// AppendLog records an execution log entry stamped with the current time.
func (m *TaskManager) AppendLog(ctx context.Context, entry db.ExecutionLog) (db.ExecutionLog, error) {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = db.Millis(m.now())
	}
	return m.store.AppendLog(ctx, entry)
}

func (m *TaskManager) appendLog(ctx context.Context, entry db.ExecutionLog) {
	if _, err := m.AppendLog(ctx, entry); err != nil {
		m.logger.Error("failed to append execution log",
			slog.String("task_id", entry.TaskID),
			slog.String("error", err.Error()),
		)
	}
}
