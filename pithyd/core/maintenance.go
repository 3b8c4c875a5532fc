package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/backends"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/conf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

// MaintenancePolicy holds the reclamation thresholds. It is built once at startup.
type MaintenancePolicy struct {
	Enabled               bool
	IdleTimeout           time.Duration
	CompletionGracePeriod time.Duration
	FailedGracePeriod     time.Duration
	OrphanAge             time.Duration
}

func DefaultMaintenancePolicy() MaintenancePolicy {
	return MaintenancePolicy{
		Enabled:               true,
		IdleTimeout:           30 * time.Minute,
		CompletionGracePeriod: 5 * time.Minute,
		FailedGracePeriod:     10 * time.Minute,
		OrphanAge:             time.Hour,
	}
}

func MaintenancePolicyFromConfig(cfg conf.MaintenanceConfig) MaintenancePolicy {
	return MaintenancePolicy{
		Enabled:               cfg.Enabled,
		IdleTimeout:           conf.Duration(cfg.IdleTimeout),
		CompletionGracePeriod: conf.Duration(cfg.CompletionGracePeriod),
		FailedGracePeriod:     conf.Duration(cfg.FailedGracePeriod),
		OrphanAge:             conf.Duration(cfg.OrphanAge),
	}
}

// GracePeriod returns how long a workspace is kept after its task ends with status.
func (p MaintenancePolicy) GracePeriod(status db.TaskStatus) time.Duration {
	if status == db.TaskStatusCompleted {
		return p.CompletionGracePeriod
	}
	return p.FailedGracePeriod
}

type CleanupReason string

const (
	ReasonTaskCompleted CleanupReason = "task_completed"
	ReasonTaskFailed    CleanupReason = "task_failed"
	ReasonIdleTimeout   CleanupReason = "idle_timeout"
	ReasonOrphaned      CleanupReason = "orphaned"
)

func (r CleanupReason) Valid() bool {
	switch r {
	case ReasonTaskCompleted, ReasonTaskFailed, ReasonIdleTimeout, ReasonOrphaned:
		return true
	}
	return false
}

type Candidate struct {
	Workspace db.Workspace
	// TaskID is the assigned task that made the workspace eligible, if any.
	TaskID string
}

type Candidates struct {
	Completed []Candidate
	Failed    []Candidate
	Idle      []Candidate
	Orphaned  []Candidate
}

type CleanupSummary struct {
	Processed  int
	Terminated int
	Errors     int
	Results    []schemas.CleanupResult
}

func (s *CleanupSummary) record(result schemas.CleanupResult) {
	s.Processed++
	s.Results = append(s.Results, result)
	if result.Success {
		s.Terminated++
	} else {
		s.Errors++
	}
}

type SweepSummary struct {
	Reconciliation schemas.ReconcileSummary
	Cleanup        CleanupSummary
}

type MaintenanceEngine struct {
	store      db.Store
	backend    backends.Backend
	workspaces *WorkspaceManager
	policy     MaintenancePolicy
	logger     *slog.Logger
	now        func() time.Time
}

func NewMaintenanceEngine(store db.Store, backend backends.Backend, policy MaintenancePolicy, logger *slog.Logger, now func() time.Time) *MaintenanceEngine {
	if now == nil {
		now = time.Now
	}
	return &MaintenanceEngine{
		store:      store,
		backend:    backend,
		workspaces: NewWorkspaceManager(store, backend, WorkspaceConfig{}, logger, now),
		policy:     policy,
		logger:     logger,
		now:        now,
	}
}

func (e *MaintenanceEngine) Policy() MaintenancePolicy {
	return e.policy
}

// FindCandidates evaluates every live workspace against the policy. An orphaned
// workspace is not considered for the other reasons.
func (e *MaintenanceEngine) FindCandidates(ctx context.Context) (Candidates, error) {
	candidates := Candidates{}
	if !e.policy.Enabled {
		return candidates, nil
	}
	workspaces, err := e.store.ListWorkspaces(ctx)
	if err != nil {
		return candidates, fmt.Errorf("list workspaces: %w", err)
	}

	now := e.now()
	for _, workspace := range workspaces {
		if workspace.Status.Terminal() {
			continue
		}
		if len(workspace.AssignedTasks) == 0 && elapsed(now, workspace.CreatedAt) >= e.policy.OrphanAge {
			candidates.Orphaned = append(candidates.Orphaned, Candidate{Workspace: workspace})
			continue
		}
		if elapsed(now, workspace.LastUsedAt) >= e.policy.IdleTimeout &&
			(workspace.Status == db.WorkspaceStatusRunning || workspace.Status == db.WorkspaceStatusStopped) {
			candidates.Idle = append(candidates.Idle, Candidate{Workspace: workspace})
		}
		for _, taskID := range workspace.AssignedTasks {
			task, err := e.store.GetTask(ctx, taskID)
			if err != nil {
				if !errors.Is(err, db.ErrNotFound) {
					e.logger.Warn("skipping task during candidate scan",
						slog.String("task_id", taskID),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			age := elapsed(now, task.UpdatedAt)
			switch {
			case task.Status == db.TaskStatusCompleted && age >= e.policy.CompletionGracePeriod:
				candidates.Completed = append(candidates.Completed, Candidate{Workspace: workspace, TaskID: task.ID})
			case task.Status == db.TaskStatusFailed && age >= e.policy.FailedGracePeriod:
				candidates.Failed = append(candidates.Failed, Candidate{Workspace: workspace, TaskID: task.ID})
			}
		}
	}
	return candidates, nil
}

// CleanupWorkspace terminates one workspace and reports the outcome. It never returns an error.
func (e *MaintenanceEngine) CleanupWorkspace(ctx context.Context, workspace db.Workspace, reason CleanupReason) schemas.CleanupResult {
	result := schemas.CleanupResult{WorkspaceID: workspace.ProviderID, Reason: string(reason)}
	alreadyGone, err := e.workspaces.terminate(ctx, workspace)
	if err != nil {
		e.logger.Error("workspace cleanup failed",
			slog.String("workspace_id", workspace.ID),
			slog.String("provider_id", workspace.ProviderID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		result.Error = err.Error()
		return result
	}
	if alreadyGone {
		result.Reason = string(reason) + " (already terminated)"
	}
	result.Success = true
	e.logger.Info("workspace cleaned up",
		slog.String("provider_id", workspace.ProviderID),
		slog.String("reason", result.Reason),
	)
	return result
}

// CleanupByID loads a workspace and cleans it up. A workspace that no longer
// exists locally is a no-op.
func (e *MaintenanceEngine) CleanupByID(ctx context.Context, workspaceID string, reason CleanupReason) (schemas.CleanupResult, error) {
	workspace, err := e.store.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, db.ErrNotFound) {
		e.logger.Info("cleanup target not found", slog.String("workspace_id", workspaceID))
		return schemas.CleanupResult{WorkspaceID: workspaceID, Reason: string(reason), Success: true}, nil
	}
	if err != nil {
		return schemas.CleanupResult{}, err
	}
	result := e.CleanupWorkspace(ctx, workspace, reason)
	if !result.Success {
		return result, errors.New(result.Error)
	}
	return result, nil
}

// Cleanup reclaims every candidate once. A failure on one workspace is recorded
// and the sweep moves on.
func (e *MaintenanceEngine) Cleanup(ctx context.Context) CleanupSummary {
	summary := CleanupSummary{Results: []schemas.CleanupResult{}}
	if !e.policy.Enabled {
		e.logger.Info("workspace cleanup disabled")
		return summary
	}
	candidates, err := e.FindCandidates(ctx)
	if err != nil {
		e.logger.Error("failed to find cleanup candidates", slog.String("error", err.Error()))
		summary.Errors++
		return summary
	}

	seen := map[string]bool{}
	groups := []struct {
		reason     CleanupReason
		candidates []Candidate
	}{
		{ReasonTaskCompleted, candidates.Completed},
		{ReasonTaskFailed, candidates.Failed},
		{ReasonIdleTimeout, candidates.Idle},
		{ReasonOrphaned, candidates.Orphaned},
	}
	for _, group := range groups {
		for _, candidate := range group.candidates {
			if seen[candidate.Workspace.ID] {
				continue
			}
			seen[candidate.Workspace.ID] = true
			if ctx.Err() != nil {
				return summary
			}
			summary.record(e.CleanupWorkspace(ctx, candidate.Workspace, group.reason))
		}
	}
	e.logger.Info("workspace cleanup finished",
		slog.Int("processed", summary.Processed),
		slog.Int("terminated", summary.Terminated),
		slog.Int("errors", summary.Errors),
	)
	return summary
}

// Reconcile aligns local workspace records with the provider's live list.
func (e *MaintenanceEngine) Reconcile(ctx context.Context) schemas.ReconcileSummary {
	summary := schemas.ReconcileSummary{Details: []schemas.ReconcileDetail{}}
	fail := func(err error) schemas.ReconcileSummary {
		e.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		summary.Errors++
		summary.Details = append(summary.Details, schemas.ReconcileDetail{
			WorkspaceID: "unknown",
			Action:      "reconciliation_failed",
			Error:       err.Error(),
		})
		return summary
	}

	local, err := e.store.ListWorkspaces(ctx)
	if err != nil {
		return fail(err)
	}
	live, err := e.backend.ListAll(ctx)
	if err != nil {
		return fail(err)
	}
	remote := make(map[string]backends.Instance, len(live))
	for _, instance := range live {
		remote[instance.ExternalID] = instance
	}

	now := db.Millis(e.now())
	for _, workspace := range local {
		if workspace.Status.Terminal() {
			continue
		}
		instance, ok := remote[workspace.ProviderID]
		target := db.WorkspaceStatusTerminated
		action, failedAction := "marked_terminated", "mark_terminated_failed"
		if ok {
			target = workspaceStatusFrom(instance.Status)
			if target == workspace.Status {
				continue
			}
			action = fmt.Sprintf("status_updated_%s_to_%s", workspace.Status, target)
			failedAction = "status_update_failed"
		}

		if err := e.store.UpdateWorkspaceStatus(ctx, workspace.ID, target, now); err != nil {
			summary.Errors++
			summary.Details = append(summary.Details, schemas.ReconcileDetail{
				WorkspaceID: workspace.ProviderID,
				Action:      failedAction,
				Error:       err.Error(),
			})
			continue
		}
		summary.Reconciled++
		summary.Details = append(summary.Details, schemas.ReconcileDetail{
			WorkspaceID: workspace.ProviderID,
			Action:      action,
		})
	}
	e.logger.Info("reconciliation finished",
		slog.Int("reconciled", summary.Reconciled),
		slog.Int("errors", summary.Errors),
	)
	return summary
}

// Sweep reconciles with the provider and then reclaims candidates.
func (e *MaintenanceEngine) Sweep(ctx context.Context) SweepSummary {
	return SweepSummary{
		Reconciliation: e.Reconcile(ctx),
		Cleanup:        e.Cleanup(ctx),
	}
}

func elapsed(now time.Time, atMillis int64) time.Duration {
	return now.Sub(time.UnixMilli(atMillis))
}
