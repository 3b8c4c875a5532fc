package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
)

func TestClientVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("  test-version  "))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	version, err := client.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != "test-version" {
		t.Fatalf("expected trimmed version, got %q", version)
	}
}

func TestClientTaskFlows(t *testing.T) {
	var seenUsers []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUsers = append(seenUsers, r.Header.Get(headerUserID))
		switch r.Method + " " + r.URL.Path {
		case http.MethodPost + " /tasks":
			var req schemas.TaskCreateRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(schemas.TaskResponse{ID: "task1", Title: req.Title, Status: "queued"})
		case http.MethodGet + " /tasks/task1":
			_ = json.NewEncoder(w).Encode(schemas.TaskResponse{ID: "task1", Status: "running"})
		case http.MethodPost + " /tasks/task1/execute":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(schemas.TaskExecuteResponse{TaskID: "task1", Status: "running", WorkspaceID: "dt-1"})
		case http.MethodPost + " /tasks/task1/cancel":
			var req schemas.TaskCancelRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if !req.TerminateWorkspace {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(schemas.TaskCancelResponse{TaskID: "task1", Status: "cancelled"})
		case http.MethodPost + " /tasks/task1/sync-status":
			_ = json.NewEncoder(w).Encode(schemas.TaskSyncResponse{TaskID: "task1", Status: "failed", Updates: []string{"Workspace status updated to: stopped"}, Errors: []string{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithUser("user-1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	created, err := client.CreateTask(ctx, schemas.TaskCreateRequest{RepoID: "r", RepoURL: "https://github.com/a/b", Title: "Fix"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID != "task1" || created.Title != "Fix" {
		t.Fatalf("unexpected task %+v", created)
	}

	executed, err := client.ExecuteTask(ctx, "task1", schemas.TaskExecuteRequest{})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if executed.WorkspaceID != "dt-1" {
		t.Fatalf("unexpected workspace %q", executed.WorkspaceID)
	}

	task, err := client.GetTask(ctx, "task1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != "running" {
		t.Fatalf("expected running, got %s", task.Status)
	}

	synced, err := client.SyncTaskStatus(ctx, "task1")
	if err != nil {
		t.Fatalf("SyncTaskStatus: %v", err)
	}
	if synced.Status != "failed" || len(synced.Updates) != 1 {
		t.Fatalf("unexpected sync %+v", synced)
	}

	cancelled, err := client.CancelTask(ctx, "task1", schemas.TaskCancelRequest{TerminateWorkspace: true})
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	for _, user := range seenUsers {
		if user != "user-1" {
			t.Fatalf("expected user header on every request, got %v", seenUsers)
		}
	}
}

func TestClientErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Status: "failed", Code: "invalid_state", Message: "Cannot execute task in running status", CurrentStatus: "running"})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.ExecuteTask(ctx, "task1", schemas.TaskExecuteRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.CurrentStatus != "running" || !strings.Contains(apiErr.Error(), "running status") {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Status: "failed", Code: "auth_required", Message: "auth"})
	}))
	defer authServer.Close()

	client = NewClient(WithBaseURL(authServer.URL), WithHTTPClient(authServer.Client()))
	if _, err := client.Sweep(ctx); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestClientSweepSendsOperatorToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerOperatorToken) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(schemas.SweepResponse{Processed: 2, Terminated: 1, Errors: 1})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()), WithOperatorToken("secret"))
	resp, err := client.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if resp.Processed != 2 || resp.Terminated != 1 {
		t.Fatalf("unexpected sweep %+v", resp)
	}
}

func TestClientStreamLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, msg := range []string{"Connected to log stream", "cloning", "done"} {
			fmt.Fprintf(w, "data: {\"type\":\"info\",\"message\":%q,\"timestamp\":%d}\n\n", msg, i)
			flusher.Flush()
		}
		_, _ = w.Write([]byte(": comment\n\n"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	var messages []string
	err := client.StreamLogs(context.Background(), "task1", func(event schemas.LogEvent) error {
		messages = append(messages, event.Message)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	if strings.Join(messages, ",") != "Connected to log stream,cloning,done" {
		t.Fatalf("unexpected messages %v", messages)
	}

	stop := errors.New("stop")
	count := 0
	err = client.StreamLogs(context.Background(), "task1", func(schemas.LogEvent) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) || count != 1 {
		t.Fatalf("expected callback error to end stream, got %v after %d", err, count)
	}
}

func TestIsRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0.1.0"))
	}))
	defer server.Close()

	if !IsRunning(context.Background(), server.URL) {
		t.Fatalf("expected server to be running")
	}
	if IsRunning(context.Background(), "") {
		t.Fatalf("empty url should not be running")
	}
	if err := WaitForServer(context.Background(), server.URL, time.Millisecond); err != nil {
		t.Fatalf("WaitForServer: %v", err)
	}
}
