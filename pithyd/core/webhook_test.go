package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

func TestWebhookTaskCompletedSuccess(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)

	result := env.deliver(t, fmt.Sprintf(`{
		"type": "task-completed",
		"taskId": %q,
		"workspaceId": %q,
		"outcome": "success",
		"branchName": "pj/%s",
		"mergeRequestUrl": "https://github.com/acme/widgets/pull/42"
	}`, task.ID, workspace.ProviderID, task.ID))
	if result.Status != WebhookProcessed || result.Event != EventTaskCompleted {
		t.Fatalf("unexpected result: %+v", result)
	}

	got := env.mustTask(t, task.ID)
	if got.Status != db.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.MergeRequestURL != "https://github.com/acme/widgets/pull/42" || got.BranchName != "pj/"+task.ID {
		t.Fatalf("unexpected result fields: %+v", got)
	}
	if status := env.mustWorkspace(t, workspace.ID).Status; status != db.WorkspaceStatusStopped {
		t.Fatalf("expected workspace stopped, got %s", status)
	}

	logs := env.logs(t, task.ID)
	last := logs[len(logs)-1]
	if last.Status != db.LogStatusCompleted || !strings.Contains(last.Payload, "pull/42") {
		t.Fatalf("unexpected summary log: %+v", last)
	}
	if len(env.cleanup.requests) != 0 {
		t.Fatalf("cleanup should wait for the grace period, got %v", env.cleanup.requests)
	}
}

func TestWebhookTaskCompletedPatchFailureNeedsReview(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)

	result := env.deliver(t, fmt.Sprintf(`{"type":"task-completed","taskId":%q,"workspaceId":%q,"outcome":"failure","error":"git apply failed: patch does not apply"}`,
		task.ID, workspace.ProviderID))
	if result.Status != WebhookProcessed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusNeedsReview {
		t.Fatalf("expected needs_review, got %s", got)
	}
	logs := env.logs(t, task.ID)
	last := logs[len(logs)-1]
	if last.Status != db.LogStatusFailed || !strings.Contains(last.Error, "git apply failed") {
		t.Fatalf("unexpected summary log: %+v", last)
	}
}

func TestWebhookTaskCompletedFailure(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)

	env.deliver(t, fmt.Sprintf(`{"type":"task-completed","taskId":%q,"workspaceId":%q,"status":"error","error":"agent exited 137"}`,
		task.ID, workspace.ProviderID))
	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestWebhookEagerCleanupAfterGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)
	env.clock.Advance(6 * time.Minute)

	env.deliver(t, fmt.Sprintf(`{"type":"task-completed","taskId":%q,"workspaceId":%q,"outcome":"success"}`,
		task.ID, workspace.ProviderID))
	if len(env.cleanup.requests) != 1 {
		t.Fatalf("expected one cleanup request, got %v", env.cleanup.requests)
	}
	request := env.cleanup.requests[0]
	if request.WorkspaceID != workspace.ID || request.Reason != string(ReasonTaskCompleted) {
		t.Fatalf("unexpected cleanup request: %+v", request)
	}
}

func TestWebhookTaskFailedEagerCleanupUsesFailedGrace(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)
	env.clock.Advance(6 * time.Minute)

	env.deliver(t, fmt.Sprintf(`{"type":"task-failed","taskId":%q,"workspaceId":%q,"error":"container OOM"}`,
		task.ID, workspace.ProviderID))
	if len(env.cleanup.requests) != 0 {
		t.Fatalf("failed grace period has not elapsed, got %v", env.cleanup.requests)
	}
	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestWebhookTaskFailedClassification(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)
	env.clock.Advance(11 * time.Minute)

	details := strings.Repeat("x", 12000)
	body, err := json.Marshal(map[string]string{
		"type":        "task-failed",
		"taskId":      task.ID,
		"workspaceId": workspace.ProviderID,
		"error":       "exit status 1",
		"details":     details,
		"category":    "merge_conflict",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if result := env.webhooks.Handle(context.Background(), body); result.Status != WebhookProcessed {
		t.Fatalf("unexpected result: %+v", result)
	}

	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusNeedsReview {
		t.Fatalf("expected needs_review, got %s", got)
	}
	if got := env.mustWorkspace(t, workspace.ID).Status; got != db.WorkspaceStatusStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	logs := env.logs(t, task.ID)
	last := logs[len(logs)-1]
	if !strings.HasSuffix(last.Error, "... (truncated)") || len(last.Error) > maxErrorLogLength+32 {
		t.Fatalf("expected truncated error, got length %d", len(last.Error))
	}
	if len(env.cleanup.requests) != 1 || env.cleanup.requests[0].Reason != string(ReasonTaskFailed) {
		t.Fatalf("expected failed cleanup request, got %v", env.cleanup.requests)
	}
}

func TestWebhookWorkspaceStatusIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, workspace := env.runningTask(t)
	body := fmt.Sprintf(`{"type":"workspace.status","workspaceId":%q,"status":"started"}`, workspace.ProviderID)

	env.deliver(t, body)
	once := env.mustWorkspace(t, workspace.ID)
	env.deliver(t, body)
	twice := env.mustWorkspace(t, workspace.ID)

	if once.Status != db.WorkspaceStatusRunning || twice.Status != once.Status {
		t.Fatalf("expected running after both deliveries, got %s then %s", once.Status, twice.Status)
	}
}

func TestWebhookWorkspaceCreated(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.runningTask(t)

	result := env.deliver(t, fmt.Sprintf(`{"type":"workspace-created","taskId":%q,"workspaceId":"dt-external"}`, task.ID))
	if result.Status != WebhookProcessed {
		t.Fatalf("unexpected result: %+v", result)
	}
	workspace, err := env.workspaces.GetByProviderID(context.Background(), "dt-external")
	if err != nil {
		t.Fatalf("expected workspace record: %v", err)
	}
	if workspace.Status != db.WorkspaceStatusCreating || !workspace.HasTask(task.ID) {
		t.Fatalf("unexpected workspace: %+v", workspace)
	}
	if got := env.mustTask(t, task.ID).AssignedWorkspaceID; got != "dt-external" {
		t.Fatalf("expected task attached to dt-external, got %q", got)
	}

	env.deliver(t, fmt.Sprintf(`{"type":"workspace-created","taskId":%q,"workspaceId":"dt-external","status":"started"}`, task.ID))
	again, _ := env.workspaces.GetByProviderID(context.Background(), "dt-external")
	if again.ID != workspace.ID || again.Status != db.WorkspaceStatusRunning || len(again.AssignedTasks) != 1 {
		t.Fatalf("redelivery should update the same record: %+v", again)
	}
}

func TestWebhookIgnoresCancelledTasks(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)
	if _, err := env.tasks.Cancel(context.Background(), task.ID, "user-1", CancelOptions{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before := len(env.logs(t, task.ID))

	for _, body := range []string{
		fmt.Sprintf(`{"type":"task-completed","taskId":%q,"workspaceId":%q,"outcome":"success"}`, task.ID, workspace.ProviderID),
		fmt.Sprintf(`{"type":"task-progress","taskId":%q,"message":"still going"}`, task.ID),
		fmt.Sprintf(`{"type":"task-failed","taskId":%q,"error":"patch failed"}`, task.ID),
	} {
		if result := env.deliver(t, body); result.Status != WebhookIgnored {
			t.Fatalf("expected ignored, got %+v", result)
		}
	}
	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusCancelled {
		t.Fatalf("cancelled task changed to %s", got)
	}
	if after := len(env.logs(t, task.ID)); after != before {
		t.Fatalf("expected no new logs, got %d -> %d", before, after)
	}
}

func TestWebhookUnknownReferencesAreNoOps(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"type":"task-completed","taskId":"missing","outcome":"success"}`,
		`{"type":"workspace-status","workspaceId":"dt-missing","status":"stopped"}`,
		`{"type":"pull-request-created","taskId":"missing","workspaceId":"dt-missing"}`,
	} {
		if result := env.deliver(t, body); result.Status != WebhookIgnored {
			t.Fatalf("expected ignored for %s, got %+v", body, result)
		}
	}
}

func TestWebhookInvalidPayloadReportsFailure(t *testing.T) {
	env := newTestEnv(t)
	result := env.deliver(t, `{"taskId":"t1"}`)
	if result.Status != WebhookFailed || result.Message == "" {
		t.Fatalf("expected failed result with message, got %+v", result)
	}
}

func TestWebhookLateProgressDoesNotRegressStatus(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)
	env.deliver(t, fmt.Sprintf(`{"type":"task-completed","taskId":%q,"workspaceId":%q,"outcome":"success"}`, task.ID, workspace.ProviderID))

	result := env.deliver(t, fmt.Sprintf(`{"type":"task-progress","taskId":%q,"message":"late","data":{"step":"push"}}`, task.ID))
	if result.Status != WebhookProcessed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusCompleted {
		t.Fatalf("status regressed to %s", got)
	}
	logs := env.logs(t, task.ID)
	last := logs[len(logs)-1]
	var payload map[string]any
	if err := json.Unmarshal([]byte(last.Payload), &payload); err != nil {
		t.Fatalf("expected structured payload, got %q", last.Payload)
	}
	if payload["type"] != "progress" || payload["message"] != "late" || payload["step"] != "push" {
		t.Fatalf("unexpected payload %v", payload)
	}

	result = env.deliver(t, fmt.Sprintf(`{"type":"pull-request-created","taskId":%q,"workspaceId":%q,"mergeRequestUrl":"https://github.com/acme/widgets/pull/5"}`,
		task.ID, workspace.ProviderID))
	if result.Status != WebhookIgnored {
		t.Fatalf("expected late pull request to be ignored, got %+v", result)
	}
	if got := env.mustTask(t, task.ID).Status; got != db.TaskStatusCompleted {
		t.Fatalf("status regressed to %s", got)
	}
}

func TestWebhookPullRequestCreated(t *testing.T) {
	env := newTestEnv(t)
	task, workspace := env.runningTask(t)
	other := env.createTask(t, "user-2")

	result := env.deliver(t, fmt.Sprintf(`{"type":"pr.created","taskId":%q,"workspaceId":%q,"prUrl":"https://github.com/acme/widgets/pull/8"}`,
		other.ID, workspace.ProviderID))
	if result.Status != WebhookIgnored {
		t.Fatalf("unassigned task should be ignored, got %+v", result)
	}

	result = env.deliver(t, fmt.Sprintf(`{"type":"pr.created","taskId":%q,"workspaceId":%q,"branchName":"pj/x","prUrl":"https://github.com/acme/widgets/pull/8"}`,
		task.ID, workspace.ProviderID))
	if result.Status != WebhookProcessed {
		t.Fatalf("unexpected result: %+v", result)
	}
	got := env.mustTask(t, task.ID)
	if got.Status != db.TaskStatusNeedsReview || got.MergeRequestURL != "https://github.com/acme/widgets/pull/8" || got.BranchName != "pj/x" {
		t.Fatalf("unexpected task: %+v", got)
	}
}
