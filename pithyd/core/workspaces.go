package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/backends"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/prompt"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

// Credentials are forwarded into every provisioned workspace.
type Credentials struct {
	OpenAIKey    string
	AnthropicKey string
	GitHubToken  string
}

type WorkspaceConfig struct {
	// AppURL is the public base URL the workspace calls back into.
	AppURL      string
	Snapshot    string
	Credentials Credentials
}

type ProvisionOptions struct {
	KeepAlive bool
}

type WorkspaceManager struct {
	store   db.Store
	backend backends.Backend
	cfg     WorkspaceConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewWorkspaceManager(store db.Store, backend backends.Backend, cfg WorkspaceConfig, logger *slog.Logger, now func() time.Time) *WorkspaceManager {
	if now == nil {
		now = time.Now
	}
	return &WorkspaceManager{store: store, backend: backend, cfg: cfg, logger: logger, now: now}
}

// BranchName is the branch the agent pushes its work to.
func BranchName(taskID string) string {
	return "pj/" + taskID
}

func (m *WorkspaceManager) envFor(task db.Task, opts ProvisionOptions) map[string]string {
	agentPrompt := prompt.Build(prompt.Input{
		Title:       task.Title,
		Description: task.Description,
		Priority:    string(task.Priority),
	})
	env := map[string]string{
		"TARGET_REPO":    task.RepoURL,
		"BRANCH_NAME":    BranchName(task.ID),
		"BASE_BRANCH":    task.BaseBranch,
		"TASK_ID":        task.ID,
		"AGENT_PROMPT":   agentPrompt.Text,
		"MODEL_PROVIDER": task.ModelProvider,
		"MODEL":          task.Model,
		"WEBHOOK_URL":    m.cfg.AppURL + "/webhooks/execution",
		"KEEP_ALIVE":     strconv.FormatBool(opts.KeepAlive),
	}
	secrets := map[string]string{
		"OPENAI_API_KEY":    m.cfg.Credentials.OpenAIKey,
		"ANTHROPIC_API_KEY": m.cfg.Credentials.AnthropicKey,
		"GITHUB_TOKEN":      m.cfg.Credentials.GitHubToken,
	}
	for key, value := range secrets {
		if value != "" {
			env[key] = value
		}
	}
	return env
}

// Provision creates a workspace for task on the backend, records it and assigns the task.
func (m *WorkspaceManager) Provision(ctx context.Context, task db.Task, opts ProvisionOptions) (db.Workspace, error) {
	logger := m.logger.With(slog.String("task_id", task.ID))
	instance, err := m.backend.Create(ctx, backends.CreateParams{
		RepoURL:  task.RepoURL,
		Branch:   task.BaseBranch,
		Snapshot: m.cfg.Snapshot,
		Env:      m.envFor(task, opts),
	})
	if err != nil {
		logger.Error("backend create failed", slog.String("error", err.Error()))
		return db.Workspace{}, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	logger = logger.With(slog.String("provider_id", instance.ExternalID))

	now := db.Millis(m.now())
	workspace, err := m.store.GetWorkspaceByProviderID(ctx, instance.ExternalID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		workspace = db.Workspace{
			ID:            db.NewID(),
			ProviderID:    instance.ExternalID,
			Template:      m.cfg.Snapshot,
			Status:        db.WorkspaceStatusCreating,
			AssignedTasks: []string{task.ID},
			KeepAlive:     opts.KeepAlive,
			CreatedAt:     now,
			LastUsedAt:    now,
		}
		if err := m.store.CreateWorkspace(ctx, workspace); err != nil {
			return db.Workspace{}, fmt.Errorf("%w: record workspace: %w", ErrProvisioning, err)
		}
	case err != nil:
		return db.Workspace{}, fmt.Errorf("%w: lookup workspace: %w", ErrProvisioning, err)
	default:
		logger.Info("reusing workspace record", slog.String("workspace_id", workspace.ID))
		if err := m.UpdateStatus(ctx, workspace.ID, workspaceStatusFrom(instance.Status)); err != nil {
			return db.Workspace{}, fmt.Errorf("%w: %w", ErrProvisioning, err)
		}
		if err := m.AssignTask(ctx, workspace.ID, task.ID); err != nil {
			return db.Workspace{}, fmt.Errorf("%w: %w", ErrProvisioning, err)
		}
		if workspace, err = m.store.GetWorkspace(ctx, workspace.ID); err != nil {
			return db.Workspace{}, fmt.Errorf("%w: %w", ErrProvisioning, err)
		}
	}

	if _, err := m.store.PatchTask(ctx, task.ID, db.TaskPatch{
		AssignedWorkspaceID: db.Ptr(instance.ExternalID),
		UpdatedAt:           now,
	}); err != nil {
		return db.Workspace{}, fmt.Errorf("%w: attach workspace to task: %w", ErrProvisioning, err)
	}

	logger.Info("workspace provisioned", slog.String("workspace_id", workspace.ID))
	return workspace, nil
}

func (m *WorkspaceManager) Get(ctx context.Context, workspaceID string) (db.Workspace, error) {
	return m.store.GetWorkspace(ctx, workspaceID)
}

func (m *WorkspaceManager) GetByProviderID(ctx context.Context, providerID string) (db.Workspace, error) {
	return m.store.GetWorkspaceByProviderID(ctx, providerID)
}

func (m *WorkspaceManager) List(ctx context.Context) ([]db.Workspace, error) {
	return m.store.ListWorkspaces(ctx)
}

// UpdateStatus overwrites the workspace status and refreshes lastUsedAt.
// The provider is authoritative so no transition check is made, except that a
// terminated workspace stays terminated.
func (m *WorkspaceManager) UpdateStatus(ctx context.Context, workspaceID string, status db.WorkspaceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown workspace status %q", ErrValidation, status)
	}
	err := m.store.UpdateWorkspaceStatus(ctx, workspaceID, status, db.Millis(m.now()))
	if errors.Is(err, db.ErrStatusConflict) {
		m.logger.Debug("ignoring status change on terminated workspace",
			slog.String("workspace_id", workspaceID),
			slog.String("status", string(status)),
		)
		return nil
	}
	return err
}

// Refresh reads the provider status of a workspace and stores it locally. A
// workspace the provider no longer knows is reported as terminated.
func (m *WorkspaceManager) Refresh(ctx context.Context, providerID string) (db.WorkspaceStatus, error) {
	status, err := m.backend.GetStatus(ctx, providerID)
	target := workspaceStatusFrom(status)
	if err != nil {
		if !backends.IsNotFound(err) {
			return "", fmt.Errorf("get status of workspace %s: %w", providerID, err)
		}
		target = db.WorkspaceStatusTerminated
	}
	workspace, err := m.store.GetWorkspaceByProviderID(ctx, providerID)
	if errors.Is(err, db.ErrNotFound) {
		return target, nil
	}
	if err != nil {
		return target, err
	}
	if err := m.UpdateStatus(ctx, workspace.ID, target); err != nil {
		return target, fmt.Errorf("update workspace %s: %w", workspace.ID, err)
	}
	return target, nil
}

// AssignTask appends taskID to the workspace. Assigning twice is a no-op.
func (m *WorkspaceManager) AssignTask(ctx context.Context, workspaceID string, taskID string) error {
	workspace, err := m.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if workspace.Status.Terminal() {
		return fmt.Errorf("assign task %s to %s: %w", taskID, workspaceID, ErrWorkspaceTerminated)
	}
	if workspace.HasTask(taskID) {
		return nil
	}
	return m.store.AppendWorkspaceTask(ctx, workspaceID, taskID, db.Millis(m.now()))
}

// Terminate reclaims the workspace on the backend and marks it terminated.
func (m *WorkspaceManager) Terminate(ctx context.Context, workspaceID string) error {
	workspace, err := m.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	_, err = m.terminate(ctx, workspace)
	return err
}

// terminate reports whether the backend had already lost the workspace.
func (m *WorkspaceManager) terminate(ctx context.Context, workspace db.Workspace) (bool, error) {
	if workspace.Status.Terminal() {
		return true, nil
	}
	alreadyGone := false
	if err := m.backend.Terminate(ctx, workspace.ProviderID); err != nil {
		if !backends.IsNotFound(err) {
			return false, fmt.Errorf("terminate workspace %s: %w", workspace.ProviderID, err)
		}
		alreadyGone = true
	}
	if err := m.store.UpdateWorkspaceStatus(ctx, workspace.ID, db.WorkspaceStatusTerminated, db.Millis(m.now())); err != nil {
		return alreadyGone, fmt.Errorf("mark workspace %s terminated: %w", workspace.ID, err)
	}
	m.logger.Info("workspace terminated",
		slog.String("workspace_id", workspace.ID),
		slog.String("provider_id", workspace.ProviderID),
		slog.Bool("already_gone", alreadyGone),
	)
	return alreadyGone, nil
}

func workspaceStatusFrom(status backends.Status) db.WorkspaceStatus {
	switch status {
	case backends.StatusRunning:
		return db.WorkspaceStatusRunning
	case backends.StatusStopped:
		return db.WorkspaceStatusStopped
	case backends.StatusTerminated:
		return db.WorkspaceStatusTerminated
	default:
		return db.WorkspaceStatusCreating
	}
}
