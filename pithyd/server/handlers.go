package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

const maxBodyBytes = 1 << 20

func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.Base.Config.Version))
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func renderInvalidJSON(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
}

func taskResponse(task db.Task) schemas.TaskResponse {
	return schemas.TaskResponse{
		ID:                  task.ID,
		OwnerID:             task.OwnerID,
		RepoID:              task.RepoID,
		RepoURL:             task.RepoURL,
		BaseBranch:          task.BaseBranch,
		Title:               task.Title,
		Description:         task.Description,
		Priority:            string(task.Priority),
		Initiator:           string(task.Initiator),
		ModelProvider:       task.ModelProvider,
		Model:               task.Model,
		Status:              string(task.Status),
		AssignedWorkspaceID: task.AssignedWorkspaceID,
		BranchName:          task.BranchName,
		MergeRequestURL:     task.MergeRequestURL,
		CreatedAt:           task.CreatedAt,
		UpdatedAt:           task.UpdatedAt,
	}
}

func workspaceResponse(workspace db.Workspace) schemas.WorkspaceResponse {
	assigned := workspace.AssignedTasks
	if assigned == nil {
		assigned = []string{}
	}
	return schemas.WorkspaceResponse{
		ID:            workspace.ID,
		ProviderID:    workspace.ProviderID,
		Template:      workspace.Template,
		Status:        string(workspace.Status),
		AssignedTasks: assigned,
		CreatedAt:     workspace.CreatedAt,
		LastUsedAt:    workspace.LastUsedAt,
	}
}
