package core

import (
	"context"
	"testing"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/backends"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

// seedWorkspace records a workspace that the fake provider also knows about.
func (e *testEnv) seedWorkspace(t *testing.T, providerID string, status db.WorkspaceStatus, createdAgo, idleFor time.Duration, tasks ...string) db.Workspace {
	t.Helper()
	now := e.clock.Now()
	workspace := db.Workspace{
		ID:            db.NewID(),
		ProviderID:    providerID,
		Template:      "snap:v1",
		Status:        status,
		AssignedTasks: tasks,
		CreatedAt:     db.Millis(now.Add(-createdAgo)),
		LastUsedAt:    db.Millis(now.Add(-idleFor)),
	}
	if err := e.store.CreateWorkspace(context.Background(), workspace); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	e.backend.mu.Lock()
	e.backend.instances[providerID] = backends.Status(status)
	e.backend.mu.Unlock()
	return workspace
}

// finishedTask creates a task that reached status at the current clock time.
func (e *testEnv) finishedTask(t *testing.T, status db.TaskStatus) db.Task {
	t.Helper()
	task := e.createTask(t, "user-1")
	finished, err := e.store.TransitionTask(context.Background(), task.ID, status, db.Millis(e.clock.Now()), db.TaskStatusQueued)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	return finished
}

func candidateIDs(candidates []Candidate) []string {
	ids := []string{}
	for _, candidate := range candidates {
		ids = append(ids, candidate.Workspace.ID)
	}
	return ids
}

func TestFindCandidatesCompletionGraceBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.finishedTask(t, db.TaskStatusCompleted)
	oldWorkspace := env.seedWorkspace(t, "dt-old", db.WorkspaceStatusStopped, time.Hour, time.Minute, old.ID)
	env.clock.Advance(4 * time.Minute)
	young := env.finishedTask(t, db.TaskStatusCompleted)
	env.seedWorkspace(t, "dt-young", db.WorkspaceStatusStopped, time.Hour, time.Minute, young.ID)
	env.clock.Advance(time.Minute)

	candidates, err := env.maintenance.FindCandidates(ctx)
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	ids := candidateIDs(candidates.Completed)
	if len(ids) != 1 || ids[0] != oldWorkspace.ID {
		t.Fatalf("expected only %s in completed set, got %v", oldWorkspace.ID, ids)
	}
	if candidates.Completed[0].TaskID != old.ID {
		t.Fatalf("expected candidate to carry task %s", old.ID)
	}
}

func TestFindCandidatesFailedGrace(t *testing.T) {
	env := newTestEnv(t)
	failed := env.finishedTask(t, db.TaskStatusFailed)
	workspace := env.seedWorkspace(t, "dt-failed", db.WorkspaceStatusStopped, time.Hour, time.Minute, failed.ID)

	env.clock.Advance(9 * time.Minute)
	candidates, _ := env.maintenance.FindCandidates(context.Background())
	if len(candidates.Failed) != 0 {
		t.Fatalf("failed grace period has not elapsed")
	}
	env.clock.Advance(time.Minute)
	candidates, _ = env.maintenance.FindCandidates(context.Background())
	if ids := candidateIDs(candidates.Failed); len(ids) != 1 || ids[0] != workspace.ID {
		t.Fatalf("expected failed candidate, got %v", ids)
	}
}

func TestSweepTerminatesIdleWorkspace(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.runningTask(t)
	idle := env.seedWorkspace(t, "dt-idle", db.WorkspaceStatusRunning, 2*time.Hour, 40*time.Minute, task.ID)
	busy := env.seedWorkspace(t, "dt-busy", db.WorkspaceStatusRunning, 2*time.Hour, 20*time.Minute, task.ID)
	creating := env.seedWorkspace(t, "dt-creating", db.WorkspaceStatusCreating, 2*time.Hour, 40*time.Minute, task.ID)

	candidates, err := env.maintenance.FindCandidates(context.Background())
	if err != nil {
		t.Fatalf("find candidates: %v", err)
	}
	if ids := candidateIDs(candidates.Idle); len(ids) != 1 || ids[0] != idle.ID {
		t.Fatalf("expected only idle workspace, got %v", ids)
	}

	summary := env.maintenance.Sweep(context.Background())
	if summary.Cleanup.Processed != 1 || summary.Cleanup.Terminated != 1 || summary.Cleanup.Errors != 0 {
		t.Fatalf("unexpected cleanup summary: %+v", summary.Cleanup)
	}
	result := summary.Cleanup.Results[0]
	if result.WorkspaceID != "dt-idle" || result.Reason != string(ReasonIdleTimeout) || !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := env.mustWorkspace(t, idle.ID).Status; got != db.WorkspaceStatusTerminated {
		t.Fatalf("expected idle workspace terminated, got %s", got)
	}
	for _, id := range []string{busy.ID, creating.ID} {
		if got := env.mustWorkspace(t, id).Status; got == db.WorkspaceStatusTerminated {
			t.Fatalf("workspace %s should survive", id)
		}
	}
}

func TestCleanupOrphanedWorkspace(t *testing.T) {
	env := newTestEnv(t)
	orphan := env.seedWorkspace(t, "dt-orphan", db.WorkspaceStatusRunning, 2*time.Hour, 45*time.Minute)
	fresh := env.seedWorkspace(t, "dt-fresh", db.WorkspaceStatusCreating, 10*time.Minute, 10*time.Minute)

	summary := env.maintenance.Cleanup(context.Background())
	if summary.Processed != 1 || summary.Results[0].Reason != string(ReasonOrphaned) {
		t.Fatalf("expected one orphan cleanup, got %+v", summary)
	}
	if got := env.mustWorkspace(t, orphan.ID).Status; got != db.WorkspaceStatusTerminated {
		t.Fatalf("expected orphan terminated, got %s", got)
	}
	if got := env.mustWorkspace(t, fresh.ID).Status; got != db.WorkspaceStatusCreating {
		t.Fatalf("fresh workspace should be untouched, got %s", got)
	}
}

func TestCleanupContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)
	first := env.seedWorkspace(t, "dt-a", db.WorkspaceStatusRunning, 2*time.Hour, 2*time.Hour)
	second := env.seedWorkspace(t, "dt-b", db.WorkspaceStatusRunning, 2*time.Hour, 2*time.Hour)
	gone := env.seedWorkspace(t, "dt-gone", db.WorkspaceStatusRunning, 2*time.Hour, 2*time.Hour)
	env.backend.terminate["dt-a"] = errBoom
	env.backend.terminate["dt-gone"] = backends.ErrNotFound

	summary := env.maintenance.Cleanup(context.Background())
	if summary.Processed != 3 || summary.Terminated != 2 || summary.Errors != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := env.mustWorkspace(t, first.ID).Status; got != db.WorkspaceStatusRunning {
		t.Fatalf("failed cleanup should leave workspace for the next sweep, got %s", got)
	}
	for _, id := range []string{second.ID, gone.ID} {
		if got := env.mustWorkspace(t, id).Status; got != db.WorkspaceStatusTerminated {
			t.Fatalf("expected %s terminated, got %s", id, got)
		}
	}
	for _, result := range summary.Results {
		if result.WorkspaceID == "dt-gone" && result.Reason != "orphaned (already terminated)" {
			t.Fatalf("unexpected reason for vanished workspace: %q", result.Reason)
		}
		if result.WorkspaceID == "dt-a" && (result.Success || result.Error == "") {
			t.Fatalf("expected recorded failure: %+v", result)
		}
	}
}

func TestCleanupDeduplicatesCandidates(t *testing.T) {
	env := newTestEnv(t)
	completed := env.finishedTask(t, db.TaskStatusCompleted)
	workspace := env.seedWorkspace(t, "dt-both", db.WorkspaceStatusStopped, 2*time.Hour, 0, completed.ID)
	env.clock.Advance(time.Hour)

	summary := env.maintenance.Cleanup(context.Background())
	if summary.Processed != 1 || summary.Results[0].Reason != string(ReasonTaskCompleted) {
		t.Fatalf("expected a single completed cleanup, got %+v", summary)
	}
	if ids := env.backend.terminatedIDs(); len(ids) != 1 || ids[0] != workspace.ProviderID {
		t.Fatalf("expected one provider termination, got %v", ids)
	}
}

func TestCleanupDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorkspace(t, "dt-orphan", db.WorkspaceStatusRunning, 2*time.Hour, 2*time.Hour)
	policy := DefaultMaintenancePolicy()
	policy.Enabled = false
	engine := NewMaintenanceEngine(env.store, env.backend, policy, discardLogger(), env.clock.Now)

	summary := engine.Cleanup(context.Background())
	if summary.Processed != 0 || summary.Results == nil {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if len(env.backend.terminatedIDs()) != 0 {
		t.Fatalf("disabled cleanup must not terminate")
	}
}

func TestReconcile(t *testing.T) {
	env := newTestEnv(t)
	missing := env.seedWorkspace(t, "dt-missing", db.WorkspaceStatusRunning, time.Minute, time.Minute, "t1")
	drifted := env.seedWorkspace(t, "dt-drifted", db.WorkspaceStatusRunning, time.Minute, time.Minute, "t2")
	steady := env.seedWorkspace(t, "dt-steady", db.WorkspaceStatusRunning, time.Minute, time.Minute, "t3")
	env.backend.mu.Lock()
	delete(env.backend.instances, "dt-missing")
	env.backend.instances["dt-drifted"] = backends.StatusStopped
	env.backend.mu.Unlock()

	summary := env.maintenance.Reconcile(context.Background())
	if summary.Reconciled != 2 || summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := env.mustWorkspace(t, missing.ID).Status; got != db.WorkspaceStatusTerminated {
		t.Fatalf("expected missing workspace terminated, got %s", got)
	}
	if got := env.mustWorkspace(t, drifted.ID).Status; got != db.WorkspaceStatusStopped {
		t.Fatalf("expected drifted workspace stopped, got %s", got)
	}
	if got := env.mustWorkspace(t, steady.ID).Status; got != db.WorkspaceStatusRunning {
		t.Fatalf("expected steady workspace untouched, got %s", got)
	}

	actions := map[string]string{}
	for _, detail := range summary.Details {
		actions[detail.WorkspaceID] = detail.Action
	}
	if actions["dt-missing"] != "marked_terminated" || actions["dt-drifted"] != "status_updated_running_to_stopped" {
		t.Fatalf("unexpected details: %v", summary.Details)
	}
}

func TestReconcileProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	workspace := env.seedWorkspace(t, "dt-1", db.WorkspaceStatusRunning, time.Minute, time.Minute, "t1")
	env.backend.listErr = errBoom

	summary := env.maintenance.Reconcile(context.Background())
	if summary.Errors != 1 || len(summary.Details) != 1 || summary.Details[0].Action != "reconciliation_failed" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := env.mustWorkspace(t, workspace.ID).Status; got != db.WorkspaceStatusRunning {
		t.Fatalf("provider failure must not change local state, got %s", got)
	}
}

func TestCleanupByIDMissingWorkspace(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.maintenance.CleanupByID(context.Background(), "nope", ReasonOrphaned)
	if err != nil || !result.Success {
		t.Fatalf("expected no-op success, got %+v, %v", result, err)
	}
}
