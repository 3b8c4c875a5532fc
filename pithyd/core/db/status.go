package db

type TaskStatus string

const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusRunning     TaskStatus = "running"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusNeedsReview TaskStatus = "needs_review"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:      {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:     {TaskStatusCompleted, TaskStatusFailed, TaskStatusNeedsReview, TaskStatusCancelled},
	TaskStatusNeedsReview: {TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed},
}

// CanTransition reports whether the task lifecycle allows moving from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources lists every status that may move to s.
func (s TaskStatus) Sources() []TaskStatus {
	var from []TaskStatus
	for source, targets := range taskTransitions {
		for _, target := range targets {
			if target == s {
				from = append(from, source)
			}
		}
	}
	return from
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusNeedsReview, TaskStatusCancelled:
		return true
	}
	return false
}

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
)

type TaskInitiator string

const (
	TaskInitiatorUser        TaskInitiator = "user"
	TaskInitiatorAnalysisBot TaskInitiator = "analysis-bot"
)

type WorkspaceStatus string

const (
	WorkspaceStatusCreating   WorkspaceStatus = "creating"
	WorkspaceStatusRunning    WorkspaceStatus = "running"
	WorkspaceStatusStopped    WorkspaceStatus = "stopped"
	WorkspaceStatusTerminated WorkspaceStatus = "terminated"
)

func (s WorkspaceStatus) Terminal() bool {
	return s == WorkspaceStatusTerminated
}

func (s WorkspaceStatus) Valid() bool {
	switch s {
	case WorkspaceStatusCreating, WorkspaceStatusRunning, WorkspaceStatusStopped, WorkspaceStatusTerminated:
		return true
	}
	return false
}

type LogStatus string

const (
	LogStatusRunning   LogStatus = "running"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
)
