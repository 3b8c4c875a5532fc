package schemas

import (
	"strings"

	z "github.com/Oudwins/zog"
)

type TaskCreateRequest struct {
	RepoID        string `json:"repoId" zog:"repoId"`
	RepoURL       string `json:"repoUrl" zog:"repoUrl"`
	BaseBranch    string `json:"baseBranch" zog:"baseBranch"`
	Title         string `json:"title" zog:"title"`
	Description   string `json:"description" zog:"description"`
	Priority      string `json:"priority" zog:"priority"`
	Initiator     string `json:"initiator" zog:"initiator"`
	ModelProvider string `json:"modelProvider" zog:"modelProvider"`
	Model         string `json:"model" zog:"model"`
}

var TaskCreateSchema = z.Struct(z.Shape{
	"RepoID":        z.String().Required().Trim(),
	"RepoURL":       z.String().Required().Trim().TestFunc(isRepoURL, z.Message("repoUrl must be an http(s) or git@ URL")),
	"BaseBranch":    z.String().Default("main").Trim(),
	"Title":         z.String().Required().Trim().Max(200),
	"Description":   z.String().Optional().Trim(),
	"Priority":      z.String().Default("normal").OneOf([]string{"low", "normal", "high"}),
	"Initiator":     z.String().Default("user").OneOf([]string{"user", "analysis-bot"}),
	"ModelProvider": z.String().Optional().Trim().TestFunc(isModelProvider, z.Message("modelProvider must be openai or anthropic")),
	"Model":         z.String().Optional().Trim(),
})

type TaskResponse struct {
	ID                  string `json:"id"`
	OwnerID             string `json:"ownerId"`
	RepoID              string `json:"repoId"`
	RepoURL             string `json:"repoUrl"`
	BaseBranch          string `json:"baseBranch"`
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	Priority            string `json:"priority"`
	Initiator           string `json:"initiator"`
	ModelProvider       string `json:"modelProvider"`
	Model               string `json:"model"`
	Status              string `json:"status"`
	AssignedWorkspaceID string `json:"assignedWorkspaceId,omitempty"`
	BranchName          string `json:"branchName,omitempty"`
	MergeRequestURL     string `json:"mergeRequestUrl,omitempty"`
	CreatedAt           int64  `json:"createdAt"`
	UpdatedAt           int64  `json:"updatedAt"`
}

type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type TaskExecuteRequest struct {
	KeepWorkspaceAlive bool `json:"keepWorkspaceAlive" zog:"keepWorkspaceAlive"`
}

type TaskExecuteResponse struct {
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type TaskCancelRequest struct {
	TerminateWorkspace bool `json:"terminateWorkspace" zog:"terminateWorkspace"`
}

type TaskCancelResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

type TaskSyncResponse struct {
	TaskID      string   `json:"taskId"`
	Status      string   `json:"status"`
	WorkspaceID string   `json:"workspaceId,omitempty"`
	Updates     []string `json:"updates"`
	Errors      []string `json:"errors"`
}

type TaskApproveRequest struct {
	MergeMethod string `json:"mergeMethod" zog:"mergeMethod"`
}

var TaskApproveSchema = z.Struct(z.Shape{
	"MergeMethod": z.String().Default("squash").Trim().OneOf([]string{"merge", "squash", "rebase"}),
})

type TaskApproveResponse struct {
	TaskID  string `json:"taskId"`
	Merged  bool   `json:"merged"`
	SHA     string `json:"sha,omitempty"`
	Message string `json:"message,omitempty"`
}

type WorkspaceResponse struct {
	ID            string   `json:"id"`
	ProviderID    string   `json:"providerId"`
	Template      string   `json:"template,omitempty"`
	Status        string   `json:"status"`
	AssignedTasks []string `json:"assignedTasks"`
	CreatedAt     int64    `json:"createdAt"`
	LastUsedAt    int64    `json:"lastUsedAt"`
}

type WorkspaceListResponse struct {
	Workspaces []WorkspaceResponse `json:"workspaces"`
}

func isRepoURL(valPtr *string, ctx z.Ctx) bool {
	v := *valPtr
	return strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "git@")
}

func isModelProvider(valPtr *string, ctx z.Ctx) bool {
	switch *valPtr {
	case "", "openai", "anthropic":
		return true
	}
	return false
}
