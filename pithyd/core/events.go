package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/parsers/zjson"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/backends"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

type EventType string

const (
	EventWorkspaceCreated   EventType = "workspace-created"
	EventWorkspaceStatus    EventType = "workspace-status"
	EventTaskProgress       EventType = "task-progress"
	EventTaskCompleted      EventType = "task-completed"
	EventPullRequestCreated EventType = "pull-request-created"
	EventTaskFailed         EventType = "task-failed"
)

var eventAliases = map[string]EventType{
	"workspace.created": EventWorkspaceCreated,
	"workspace.status":  EventWorkspaceStatus,
	"task.progress":     EventTaskProgress,
	"task.completed":    EventTaskCompleted,
	"pr.created":        EventPullRequestCreated,
	"task.failed":       EventTaskFailed,
}

func canonicalEventType(raw string) (EventType, bool) {
	switch t := EventType(raw); t {
	case EventWorkspaceCreated, EventWorkspaceStatus, EventTaskProgress,
		EventTaskCompleted, EventPullRequestCreated, EventTaskFailed:
		return t, true
	}
	t, ok := eventAliases[raw]
	return t, ok
}

// Event is one of the provider notifications accepted on the webhook endpoint.
type Event interface {
	Type() EventType
	isEvent()
}

type WorkspaceCreated struct {
	TaskID     string
	ProviderID string
	Status     db.WorkspaceStatus
}

type WorkspaceStatusChanged struct {
	ProviderID string
	Status     db.WorkspaceStatus
}

type TaskProgress struct {
	TaskID     string
	ProviderID string
	Message    string
	Data       map[string]any
}

type TaskCompleted struct {
	TaskID          string
	ProviderID      string
	Outcome         Outcome
	ReportedStatus  string
	BranchName      string
	MergeRequestURL string
	Error           string
}

type PullRequestCreated struct {
	TaskID          string
	ProviderID      string
	BranchName      string
	MergeRequestURL string
}

type TaskFailed struct {
	TaskID     string
	ProviderID string
	Category   FailureCategory
	Error      string
	Details    string
}

func (WorkspaceCreated) Type() EventType       { return EventWorkspaceCreated }
func (WorkspaceStatusChanged) Type() EventType { return EventWorkspaceStatus }
func (TaskProgress) Type() EventType           { return EventTaskProgress }
func (TaskCompleted) Type() EventType          { return EventTaskCompleted }
func (PullRequestCreated) Type() EventType     { return EventPullRequestCreated }
func (TaskFailed) Type() EventType             { return EventTaskFailed }

func (WorkspaceCreated) isEvent()       {}
func (WorkspaceStatusChanged) isEvent() {}
func (TaskProgress) isEvent()           {}
func (TaskCompleted) isEvent()          {}
func (PullRequestCreated) isEvent()     {}
func (TaskFailed) isEvent()             {}

type webhookEnvelope struct {
	Type            string `zog:"type"`
	TaskID          string `zog:"taskId"`
	WorkspaceID     string `zog:"workspaceId"`
	Status          string `zog:"status"`
	Outcome         string `zog:"outcome"`
	BranchName      string `zog:"branchName"`
	MergeRequestURL string `zog:"mergeRequestUrl"`
	PRURL           string `zog:"prUrl"`
	Error           string `zog:"error"`
	Message         string `zog:"message"`
	Details         string `zog:"details"`
	Category        string `zog:"category"`
}

var webhookEnvelopeSchema = z.Struct(z.Shape{
	"Type":            z.String().Required(z.Message("event type is required")).Trim(),
	"TaskID":          z.String().Optional().Trim(),
	"WorkspaceID":     z.String().Optional().Trim(),
	"Status":          z.String().Optional().Trim(),
	"Outcome":         z.String().Optional().Trim(),
	"BranchName":      z.String().Optional().Trim(),
	"MergeRequestURL": z.String().Optional().Trim(),
	"PRURL":           z.String().Optional().Trim(),
	"Error":           z.String().Optional(),
	"Message":         z.String().Optional(),
	"Details":         z.String().Optional(),
	"Category":        z.String().Optional().Trim().TestFunc(isFailureCategory, z.Message("unknown failure category")),
})

func isFailureCategory(valPtr *string, ctx z.Ctx) bool {
	if *valPtr == "" {
		return true
	}
	for _, category := range FailureCategories {
		if category == *valPtr {
			return true
		}
	}
	return false
}

// ParseEvent validates a webhook body and returns the typed event it describes.
func ParseEvent(body []byte) (Event, error) {
	envelope := webhookEnvelope{}
	if issues := webhookEnvelopeSchema.Parse(zjson.Decode(bytes.NewReader(body)), &envelope); len(issues) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrValidation, z.Issues.FlattenAndCollect(issues))
	}
	eventType, ok := canonicalEventType(envelope.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, envelope.Type)
	}

	mergeRequestURL := envelope.MergeRequestURL
	if mergeRequestURL == "" {
		mergeRequestURL = envelope.PRURL
	}

	require := func(fields map[string]string) error {
		for name, value := range fields {
			if value == "" {
				return fmt.Errorf("%w: %s requires %s", ErrValidation, eventType, name)
			}
		}
		return nil
	}

	switch eventType {
	case EventWorkspaceCreated:
		if err := require(map[string]string{"taskId": envelope.TaskID, "workspaceId": envelope.WorkspaceID}); err != nil {
			return nil, err
		}
		status := db.WorkspaceStatusCreating
		if envelope.Status != "" {
			status = workspaceStatusFrom(backends.MapProviderState(envelope.Status))
		}
		return WorkspaceCreated{TaskID: envelope.TaskID, ProviderID: envelope.WorkspaceID, Status: status}, nil

	case EventWorkspaceStatus:
		if err := require(map[string]string{"workspaceId": envelope.WorkspaceID, "status": envelope.Status}); err != nil {
			return nil, err
		}
		return WorkspaceStatusChanged{
			ProviderID: envelope.WorkspaceID,
			Status:     workspaceStatusFrom(backends.MapProviderState(envelope.Status)),
		}, nil

	case EventTaskProgress:
		if err := require(map[string]string{"taskId": envelope.TaskID}); err != nil {
			return nil, err
		}
		message := envelope.Error
		if message == "" {
			message = envelope.Message
		}
		if message == "" {
			message = "Task in progress"
		}
		data, err := progressData(body)
		if err != nil {
			return nil, err
		}
		return TaskProgress{TaskID: envelope.TaskID, ProviderID: envelope.WorkspaceID, Message: message, Data: data}, nil

	case EventTaskCompleted:
		if err := require(map[string]string{"taskId": envelope.TaskID}); err != nil {
			return nil, err
		}
		reported := envelope.Outcome
		if reported == "" {
			reported = envelope.Status
		}
		return TaskCompleted{
			TaskID:          envelope.TaskID,
			ProviderID:      envelope.WorkspaceID,
			Outcome:         outcomeFrom(reported),
			ReportedStatus:  reported,
			BranchName:      envelope.BranchName,
			MergeRequestURL: mergeRequestURL,
			Error:           envelope.Error,
		}, nil

	case EventPullRequestCreated:
		if err := require(map[string]string{"taskId": envelope.TaskID, "workspaceId": envelope.WorkspaceID}); err != nil {
			return nil, err
		}
		return PullRequestCreated{
			TaskID:          envelope.TaskID,
			ProviderID:      envelope.WorkspaceID,
			BranchName:      envelope.BranchName,
			MergeRequestURL: mergeRequestURL,
		}, nil

	case EventTaskFailed:
		if err := require(map[string]string{"taskId": envelope.TaskID}); err != nil {
			return nil, err
		}
		errText := envelope.Error
		if errText == "" {
			errText = envelope.Message
		}
		if errText == "" {
			errText = "Unknown error"
		}
		details := envelope.Details
		if details == "" && envelope.Error != "" {
			details = envelope.Message
		}
		return TaskFailed{
			TaskID:     envelope.TaskID,
			ProviderID: envelope.WorkspaceID,
			Category:   FailureCategory(envelope.Category),
			Error:      errText,
			Details:    details,
		}, nil
	}
	return nil, fmt.Errorf("%w: unhandled event type %q", ErrValidation, eventType)
}

func outcomeFrom(reported string) Outcome {
	switch strings.ToLower(reported) {
	case "success", "succeeded", "completed":
		return OutcomeSuccess
	case "review-needed", "needs_review", "needs-review":
		return OutcomeReviewNeeded
	default:
		return OutcomeFailure
	}
}

func progressData(body []byte) (map[string]any, error) {
	var extra struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &extra); err != nil {
		return nil, fmt.Errorf("%w: data must be an object", ErrValidation)
	}
	return extra.Data, nil
}
