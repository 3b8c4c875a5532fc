package db

import "time"

// Task is a unit of requested work against a repository.
type Task struct {
	ID                  string
	OwnerID             string
	RepoID              string
	RepoURL             string
	BaseBranch          string
	Title               string
	Description         string
	Priority            TaskPriority
	Initiator           TaskInitiator
	ModelProvider       string
	Model               string
	Status              TaskStatus
	AssignedWorkspaceID string
	BranchName          string
	MergeRequestURL     string
	KeepWorkspaceAlive  bool
	CreatedAt           int64
	UpdatedAt           int64
}

// Workspace is an ephemeral environment leased from the execution backend.
type Workspace struct {
	ID            string
	ProviderID    string
	Template      string
	Status        WorkspaceStatus
	AssignedTasks []string
	KeepAlive     bool
	CreatedAt     int64
	LastUsedAt    int64
}

func (w Workspace) HasTask(taskID string) bool {
	for _, id := range w.AssignedTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

type ExecutionLog struct {
	ID          string
	Seq         int64
	TaskID      string
	WorkspaceID string
	Status      LogStatus
	Payload     string
	Error       string
	CreatedAt   int64
}

// TaskPatch updates task fields. Nil fields are left untouched.
type TaskPatch struct {
	AssignedWorkspaceID *string
	BranchName          *string
	MergeRequestURL     *string
	KeepWorkspaceAlive  *bool
	UpdatedAt           int64
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func Ptr(value string) *string {
	return &value
}
