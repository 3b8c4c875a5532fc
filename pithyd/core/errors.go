package core

import (
	"errors"
	"fmt"

	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = db.ErrNotFound
	ErrInvalidState     = errors.New("invalid state")
	ErrProvisioning     = errors.New("workspace provisioning failed")
	ErrMergeUnavailable = errors.New("merge unavailable")
)

// InvalidStateError reports an operation that the task's current status does not allow.
type InvalidStateError struct {
	Op      string
	Current db.TaskStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("task cannot be %s, current status: %s", e.Op, e.Current)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

func invalidState(op string, current db.TaskStatus) error {
	return &InvalidStateError{Op: op, Current: current}
}

var ErrWorkspaceTerminated = errors.New("workspace is terminated")
