package backends

import (
	"context"
	"errors"
	"strings"
)

type BackendID string

const BackendDaytona BackendID = "daytona"

// ErrNotFound reports that the provider no longer knows the workspace.
var ErrNotFound = errors.New("workspace not found")

type Status string

const (
	StatusCreating   Status = "creating"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusTerminated Status = "terminated"
)

type CreateParams struct {
	RepoURL  string
	Branch   string
	Snapshot string
	Env      map[string]string
}

type Instance struct {
	ExternalID string
	Status     Status
}

// Backend provisions and reclaims workspaces on an execution provider.
type Backend interface {
	ID() BackendID
	Create(ctx context.Context, params CreateParams) (Instance, error)
	GetStatus(ctx context.Context, externalID string) (Status, error)
	// Terminate succeeds when the workspace is already gone.
	Terminate(ctx context.Context, externalID string) error
	ListAll(ctx context.Context) ([]Instance, error)
}

// IsNotFound reports whether err means the workspace no longer exists.
// Text matching covers providers that do not wrap ErrNotFound.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}

// MapProviderState converts a provider state string into a workspace status.
func MapProviderState(state string) Status {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "creating", "pending", "pending_build", "building", "starting", "restoring":
		return StatusCreating
	case "stopped", "stopping", "archived", "archiving":
		return StatusStopped
	case "terminated", "destroyed", "destroying", "deleted", "error", "build_failed":
		return StatusTerminated
	default:
		return StatusRunning
	}
}
