package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/testutil"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleTask(id string, status TaskStatus) Task {
	return Task{
		ID:            id,
		OwnerID:       "user-1",
		RepoID:        "repo-1",
		RepoURL:       "https://github.com/acme/widgets",
		BaseBranch:    "main",
		Title:         "Fix the widget",
		Priority:      TaskPriorityNormal,
		Initiator:     TaskInitiatorUser,
		ModelProvider: "openai",
		Model:         "gpt-4o-mini",
		Status:        status,
		CreatedAt:     1000,
		UpdatedAt:     1000,
	}
}

func TestMigrationsApplied(t *testing.T) {
	store := openTestStore(t)
	version, err := SchemaVersion(store.DB())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected schema version >= 1, got %d", version)
	}
}

func TestTaskRoundTripAndNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateTask(ctx, sampleTask("t1", TaskStatusQueued)); err != nil {
		t.Fatalf("create task: %v", err)
	}
	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != TaskStatusQueued || got.AssignedWorkspaceID != "" || got.RepoURL != "https://github.com/acme/widgets" {
		t.Fatalf("unexpected task: %+v", got)
	}

	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionTaskCompareAndSwap(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateTask(ctx, sampleTask("t1", TaskStatusQueued)); err != nil {
		t.Fatalf("create task: %v", err)
	}

	task, err := store.TransitionTask(ctx, "t1", TaskStatusRunning, 2000, TaskStatusQueued, TaskStatusNeedsReview)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if task.Status != TaskStatusRunning || task.UpdatedAt != 2000 {
		t.Fatalf("unexpected task after transition: %+v", task)
	}

	task, err = store.TransitionTask(ctx, "t1", TaskStatusRunning, 3000, TaskStatusQueued)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	if task.Status != TaskStatusRunning || task.UpdatedAt != 2000 {
		t.Fatalf("conflicting transition must not modify task: %+v", task)
	}

	if _, err := store.TransitionTask(ctx, "missing", TaskStatusRunning, 1, TaskStatusQueued); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPatchTaskLeavesNilFieldsUntouched(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateTask(ctx, sampleTask("t1", TaskStatusRunning)); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := store.PatchTask(ctx, "t1", TaskPatch{BranchName: Ptr("pj/t1"), MergeRequestURL: Ptr("https://github.com/acme/widgets/pull/4"), UpdatedAt: 5}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got, err := store.PatchTask(ctx, "t1", TaskPatch{AssignedWorkspaceID: Ptr("ws-1"), UpdatedAt: 6})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.BranchName != "pj/t1" || got.MergeRequestURL == "" || got.AssignedWorkspaceID != "ws-1" || got.UpdatedAt != 6 {
		t.Fatalf("unexpected patched task: %+v", got)
	}
}

func TestAppendWorkspaceTaskIsIdempotentAndOrdered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	err := store.CreateWorkspace(ctx, Workspace{ID: "w1", ProviderID: "p1", Status: WorkspaceStatusCreating, AssignedTasks: []string{"a"}, CreatedAt: 1, LastUsedAt: 1})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}

	for _, taskID := range []string{"b", "a", "b", "c"} {
		if err := store.AppendWorkspaceTask(ctx, "w1", taskID, 10); err != nil {
			t.Fatalf("append %s: %v", taskID, err)
		}
	}

	got, err := store.GetWorkspaceByProviderID(ctx, "p1")
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got.AssignedTasks) != len(want) {
		t.Fatalf("expected %v, got %v", want, got.AssignedTasks)
	}
	for i := range want {
		if got.AssignedTasks[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got.AssignedTasks)
		}
	}
	if got.LastUsedAt != 10 {
		t.Fatalf("expected last used refreshed, got %d", got.LastUsedAt)
	}

	if err := store.AppendWorkspaceTask(ctx, "missing", "a", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTerminatedWorkspaceStatusIsFinal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateWorkspace(ctx, Workspace{ID: "w1", ProviderID: "p1", Status: WorkspaceStatusRunning, CreatedAt: 1, LastUsedAt: 1}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := store.UpdateWorkspaceStatus(ctx, "w1", WorkspaceStatusTerminated, 2); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := store.UpdateWorkspaceStatus(ctx, "w1", WorkspaceStatusRunning, 3); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected conflict leaving terminated, got %v", err)
	}
	if err := store.UpdateWorkspaceStatus(ctx, "w1", WorkspaceStatusTerminated, 4); err != nil {
		t.Fatalf("re-terminate should succeed: %v", err)
	}
	got, _ := store.GetWorkspace(ctx, "w1")
	if got.Status != WorkspaceStatusTerminated {
		t.Fatalf("expected terminated, got %s", got.Status)
	}

	terminated, err := store.ListWorkspacesByStatus(ctx, WorkspaceStatusTerminated)
	if err != nil || len(terminated) != 1 {
		t.Fatalf("expected one terminated workspace, got %v (%v)", terminated, err)
	}
}

func TestLogsOrderedByCreatedAtThenInsertion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entries := []ExecutionLog{
		{TaskID: "t1", Status: LogStatusRunning, Payload: "second", CreatedAt: 20},
		{TaskID: "t1", Status: LogStatusRunning, Payload: "first", CreatedAt: 10},
		{TaskID: "t1", Status: LogStatusRunning, Payload: "third", CreatedAt: 20},
		{TaskID: "t2", Status: LogStatusRunning, Payload: "other", CreatedAt: 5},
	}
	for _, entry := range entries {
		if _, err := store.AppendLog(ctx, entry); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	logs, err := store.ListLogsByTask(ctx, "t1")
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(logs) != len(want) {
		t.Fatalf("expected %d logs, got %d", len(want), len(logs))
	}
	for i := range want {
		if logs[i].Payload != want[i] {
			t.Fatalf("position %d: expected %q, got %q", i, want[i], logs[i].Payload)
		}
		if logs[i].ID == "" {
			t.Fatalf("expected generated id")
		}
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	if !TaskStatusQueued.CanTransition(TaskStatusRunning) || !TaskStatusNeedsReview.CanTransition(TaskStatusRunning) {
		t.Fatalf("expected execution transitions to be allowed")
	}
	if TaskStatusCompleted.CanTransition(TaskStatusNeedsReview) || TaskStatusCancelled.CanTransition(TaskStatusRunning) {
		t.Fatalf("terminal statuses must not be left")
	}
	if TaskStatusCompleted.CanTransition(TaskStatusCancelled) {
		t.Fatalf("completed tasks cannot be cancelled")
	}

	sources := TaskStatusCancelled.Sources()
	if len(sources) != 2 {
		t.Fatalf("expected cancel sources queued and running, got %v", sources)
	}
}
