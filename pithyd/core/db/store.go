package db

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned by TransitionTask when the stored status is not one of the expected sources.
var ErrStatusConflict = errors.New("status conflict")

// Store is the durable home of tasks, workspaces and execution logs.
// Every mutation touches a single entity.
type Store interface {
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasksByOwner(ctx context.Context, ownerID string) ([]Task, error)
	ListTasksByStatus(ctx context.Context, status TaskStatus) ([]Task, error)
	// TransitionTask sets the status only when the current status is one of from.
	TransitionTask(ctx context.Context, id string, to TaskStatus, updatedAt int64, from ...TaskStatus) (Task, error)
	PatchTask(ctx context.Context, id string, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id string) error

	CreateWorkspace(ctx context.Context, workspace Workspace) error
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
	GetWorkspaceByProviderID(ctx context.Context, providerID string) (Workspace, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	ListWorkspacesByStatus(ctx context.Context, status WorkspaceStatus) ([]Workspace, error)
	UpdateWorkspaceStatus(ctx context.Context, id string, status WorkspaceStatus, lastUsedAt int64) error
	AppendWorkspaceTask(ctx context.Context, id string, taskID string, lastUsedAt int64) error
	DeleteWorkspace(ctx context.Context, id string) error

	AppendLog(ctx context.Context, entry ExecutionLog) (ExecutionLog, error)
	ListLogsByTask(ctx context.Context, taskID string) ([]ExecutionLog, error)

	Close() error
}
