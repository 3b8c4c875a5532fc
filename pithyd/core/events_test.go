package core

import (
	"errors"
	"testing"

	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

func TestParseEventCanonicalAndAliasNames(t *testing.T) {
	cases := map[string]EventType{
		"workspace-created":    EventWorkspaceCreated,
		"workspace.created":    EventWorkspaceCreated,
		"workspace.status":     EventWorkspaceStatus,
		"task.progress":        EventTaskProgress,
		"task-completed":       EventTaskCompleted,
		"pr.created":           EventPullRequestCreated,
		"pull-request-created": EventPullRequestCreated,
		"task.failed":          EventTaskFailed,
	}
	for raw, want := range cases {
		body := `{"type":"` + raw + `","taskId":"t1","workspaceId":"dt-1","status":"started"}`
		event, err := ParseEvent([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
		if event.Type() != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, event.Type())
		}
	}
}

func TestParseEventRejectsInvalidBodies(t *testing.T) {
	bodies := map[string]string{
		"missing type":       `{"taskId":"t1"}`,
		"unknown type":       `{"type":"task.exploded","taskId":"t1"}`,
		"not json":           `this is not json`,
		"status no ws":       `{"type":"workspace-status","status":"running"}`,
		"created no task":    `{"type":"workspace-created","workspaceId":"dt-1"}`,
		"progress no task":   `{"type":"task-progress"}`,
		"pr no workspace":    `{"type":"pull-request-created","taskId":"t1"}`,
		"unknown category":   `{"type":"task-failed","taskId":"t1","category":"gremlins"}`,
		"data not an object": `{"type":"task-progress","taskId":"t1","data":"loose"}`,
	}
	for name, body := range bodies {
		if _, err := ParseEvent([]byte(body)); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestParseEventWorkspaceStatusMapsProviderState(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"workspace-status","workspaceId":"dt-1","status":"STARTED"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	changed, ok := event.(WorkspaceStatusChanged)
	if !ok {
		t.Fatalf("expected WorkspaceStatusChanged, got %T", event)
	}
	if changed.Status != db.WorkspaceStatusRunning || changed.ProviderID != "dt-1" {
		t.Fatalf("unexpected event: %+v", changed)
	}
}

func TestParseEventTaskCompleted(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"task.completed","taskId":"t1","workspaceId":"dt-1","status":"success","branchName":"pj/t1","prUrl":"https://github.com/acme/widgets/pull/3"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	completed := event.(TaskCompleted)
	if completed.Outcome != OutcomeSuccess || completed.ReportedStatus != "success" {
		t.Fatalf("unexpected outcome: %+v", completed)
	}
	if completed.MergeRequestURL != "https://github.com/acme/widgets/pull/3" {
		t.Fatalf("expected prUrl fallback, got %q", completed.MergeRequestURL)
	}

	event, err = ParseEvent([]byte(`{"type":"task-completed","taskId":"t1","outcome":"review-needed","status":"success"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := event.(TaskCompleted).Outcome; got != OutcomeReviewNeeded {
		t.Fatalf("outcome field should win over status, got %s", got)
	}

	event, err = ParseEvent([]byte(`{"type":"task-completed","taskId":"t1","status":"error"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := event.(TaskCompleted).Outcome; got != OutcomeFailure {
		t.Fatalf("expected failure, got %s", got)
	}
}

func TestParseEventTaskProgress(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"task-progress","taskId":"t1","message":"Cloning","data":{"step":2}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	progress := event.(TaskProgress)
	if progress.Message != "Cloning" || progress.Data["step"] != float64(2) {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	event, err = ParseEvent([]byte(`{"type":"task-progress","taskId":"t1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := event.(TaskProgress).Message; got != "Task in progress" {
		t.Fatalf("expected default message, got %q", got)
	}
}

func TestParseEventTaskFailed(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"task-failed","taskId":"t1","error":"agent crashed","message":"stack trace here","category":"agent_error"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	failed := event.(TaskFailed)
	if failed.Error != "agent crashed" || failed.Details != "stack trace here" || failed.Category != CategoryAgentError {
		t.Fatalf("unexpected failure: %+v", failed)
	}

	event, err = ParseEvent([]byte(`{"type":"task-failed","taskId":"t1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := event.(TaskFailed).Error; got != "Unknown error" {
		t.Fatalf("expected fallback error, got %q", got)
	}
}
