package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/backends"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/remote"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/testutil"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu         sync.Mutex
	nextID     int
	createErr  error
	terminate  map[string]error
	listErr    error
	instances  map[string]backends.Status
	created    []backends.CreateParams
	terminated []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{terminate: map[string]error{}, instances: map[string]backends.Status{}}
}

func (f *fakeBackend) ID() backends.BackendID { return backends.BackendDaytona }

func (f *fakeBackend) Create(_ context.Context, params backends.CreateParams) (backends.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return backends.Instance{}, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("dt-%d", f.nextID)
	f.created = append(f.created, params)
	f.instances[id] = backends.StatusCreating
	return backends.Instance{ExternalID: id, Status: backends.StatusCreating}, nil
}

func (f *fakeBackend) GetStatus(_ context.Context, externalID string) (backends.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.instances[externalID]
	if !ok {
		return "", backends.ErrNotFound
	}
	return status, nil
}

func (f *fakeBackend) Terminate(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.terminate[externalID]; err != nil {
		return err
	}
	f.terminated = append(f.terminated, externalID)
	delete(f.instances, externalID)
	return nil
}

func (f *fakeBackend) ListAll(_ context.Context) ([]backends.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	instances := []backends.Instance{}
	for id, status := range f.instances {
		instances = append(instances, backends.Instance{ExternalID: id, Status: status})
	}
	return instances, nil
}

func (f *fakeBackend) terminatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

type fakeMerger struct {
	calls  []remote.PullRequest
	method remote.MergeMethod
	result remote.MergeResult
	err    error
}

func (f *fakeMerger) Merge(_ context.Context, pr remote.PullRequest, method remote.MergeMethod) (remote.MergeResult, error) {
	f.calls = append(f.calls, pr)
	f.method = method
	return f.result, f.err
}

type fakeCleanupQueue struct {
	mu       sync.Mutex
	requests []CleanupPayload
}

func (f *fakeCleanupQueue) EnqueueCleanup(_ context.Context, workspaceID string, reason CleanupReason) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, CleanupPayload{WorkspaceID: workspaceID, Reason: string(reason)})
	return fmt.Sprintf("job-%d", len(f.requests)), nil
}

type testEnv struct {
	store       *db.SQLiteStore
	backend     *fakeBackend
	merger      *fakeMerger
	cleanup     *fakeCleanupQueue
	clock       *testutil.Clock
	workspaces  *WorkspaceManager
	tasks       *TaskManager
	maintenance *MaintenanceEngine
	webhooks    *WebhookHandler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.Open(testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:   store,
		backend: newFakeBackend(),
		merger:  &fakeMerger{result: remote.MergeResult{Merged: true, SHA: "abc123"}},
		cleanup: &fakeCleanupQueue{},
		clock:   testutil.NewClock(testStart),
	}
	logger := discardLogger()
	policy := DefaultMaintenancePolicy()
	env.workspaces = NewWorkspaceManager(store, env.backend, WorkspaceConfig{
		AppURL:      "https://pithy.example.com",
		Snapshot:    "snap:v1",
		Credentials: Credentials{OpenAIKey: "sk-test", GitHubToken: "gh-test"},
	}, logger, env.clock.Now)
	env.tasks = NewTaskManager(store, env.workspaces, env.merger, TaskDefaults{ModelProvider: "openai", Model: "gpt-4o-mini"}, logger, env.clock.Now)
	env.maintenance = NewMaintenanceEngine(store, env.backend, policy, logger, env.clock.Now)
	env.webhooks = NewWebhookHandler(env.tasks, env.workspaces, env.cleanup, policy, logger, env.clock.Now)
	return env
}

func (e *testEnv) createTask(t *testing.T, owner string) db.Task {
	t.Helper()
	task, err := e.tasks.Create(context.Background(), CreateTaskParams{
		OwnerID: owner,
		RepoID:  "repo-1",
		RepoURL: "https://github.com/acme/widgets",
		Title:   "Fix src/widget.go",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

// runningTask creates a task and executes it, returning the task and its workspace.
func (e *testEnv) runningTask(t *testing.T) (db.Task, db.Workspace) {
	t.Helper()
	task := e.createTask(t, "user-1")
	result, err := e.tasks.RequestExecution(context.Background(), task.ID, "user-1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("request execution: %v", err)
	}
	return result.Task, result.Workspace
}

func (e *testEnv) mustTask(t *testing.T, id string) db.Task {
	t.Helper()
	task, err := e.store.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("get task %s: %v", id, err)
	}
	return task
}

func (e *testEnv) mustWorkspace(t *testing.T, id string) db.Workspace {
	t.Helper()
	workspace, err := e.store.GetWorkspace(context.Background(), id)
	if err != nil {
		t.Fatalf("get workspace %s: %v", id, err)
	}
	return workspace
}

func (e *testEnv) logs(t *testing.T, taskID string) []db.ExecutionLog {
	t.Helper()
	logs, err := e.store.ListLogsByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return logs
}

func (e *testEnv) deliver(t *testing.T, body string) WebhookResult {
	t.Helper()
	return e.webhooks.Handle(context.Background(), []byte(body))
}

var errBoom = errors.New("boom")
