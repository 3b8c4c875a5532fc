package server

import (
	"log/slog"
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/logbuf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/remote"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core/db"
)

func (s *Server) HandlerCreateTask(w http.ResponseWriter, r *http.Request) {
	var request schemas.TaskCreateRequest
	if err := decodeBody(r, &request); err != nil {
		renderInvalidJSON(w, r)
		return
	}
	if issues := schemas.TaskCreateSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	task, err := s.Base.Tasks.Create(r.Context(), core.CreateTaskParams{
		OwnerID:       userFrom(r),
		RepoID:        request.RepoID,
		RepoURL:       request.RepoURL,
		BaseBranch:    request.BaseBranch,
		Title:         request.Title,
		Description:   request.Description,
		Priority:      db.TaskPriority(request.Priority),
		Initiator:     db.TaskInitiator(request.Initiator),
		ModelProvider: request.ModelProvider,
		Model:         request.Model,
	})
	if err != nil {
		RenderError(w, r, err)
		return
	}
	logbuf.FromContext(r.Context()).Info("task created", slog.String("task_id", task.ID))
	RenderJSON(w, r, taskResponse(task), Render.Status(http.StatusCreated))
}

func (s *Server) HandlerListTasks(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = userFrom(r)
	}
	if owner != userFrom(r) {
		RenderError(w, r, core.ErrForbidden)
		return
	}
	tasks, err := s.Base.Tasks.ListByOwner(r.Context(), owner)
	if err != nil {
		RenderError(w, r, err)
		return
	}
	response := schemas.TaskListResponse{Tasks: make([]schemas.TaskResponse, 0, len(tasks))}
	for _, task := range tasks {
		response.Tasks = append(response.Tasks, taskResponse(task))
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Base.Tasks.GetOwned(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, taskResponse(task))
}

func (s *Server) HandlerExecuteTask(w http.ResponseWriter, r *http.Request) {
	var request schemas.TaskExecuteRequest
	if err := decodeBody(r, &request); err != nil {
		renderInvalidJSON(w, r)
		return
	}
	taskID := chi.URLParam(r, "id")
	logger := logbuf.FromContext(r.Context())

	result, err := s.Base.Tasks.RequestExecution(r.Context(), taskID, userFrom(r), core.ExecuteOptions{
		KeepWorkspaceAlive: request.KeepWorkspaceAlive,
	})
	if err != nil {
		logger.Warn("execution request failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		RenderError(w, r, err)
		return
	}
	logger.Info("execution started", slog.String("task_id", taskID), slog.String("provider_id", result.Workspace.ProviderID))
	RenderJSON(w, r, schemas.TaskExecuteResponse{
		TaskID:      result.Task.ID,
		Status:      string(result.Task.Status),
		WorkspaceID: result.Workspace.ProviderID,
	}, Render.Status(http.StatusAccepted))
}

func (s *Server) HandlerCancelTask(w http.ResponseWriter, r *http.Request) {
	var request schemas.TaskCancelRequest
	if err := decodeBody(r, &request); err != nil {
		renderInvalidJSON(w, r)
		return
	}
	task, err := s.Base.Tasks.Cancel(r.Context(), chi.URLParam(r, "id"), userFrom(r), core.CancelOptions{
		TerminateWorkspace: request.TerminateWorkspace,
	})
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, schemas.TaskCancelResponse{TaskID: task.ID, Status: string(task.Status)})
}

func (s *Server) HandlerSyncTaskStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.Base.Tasks.SyncStatus(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, schemas.TaskSyncResponse{
		TaskID:      result.Task.ID,
		Status:      string(result.Task.Status),
		WorkspaceID: result.Task.AssignedWorkspaceID,
		Updates:     result.Updates,
		Errors:      result.Errors,
	})
}

func (s *Server) HandlerApproveTask(w http.ResponseWriter, r *http.Request) {
	var request schemas.TaskApproveRequest
	if err := decodeBody(r, &request); err != nil {
		renderInvalidJSON(w, r)
		return
	}
	if issues := schemas.TaskApproveSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}
	taskID := chi.URLParam(r, "id")
	result, err := s.Base.Tasks.ApproveAndMerge(r.Context(), taskID, userFrom(r), remote.MergeMethod(request.MergeMethod))
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, schemas.TaskApproveResponse{
		TaskID:  taskID,
		Merged:  result.Merged,
		SHA:     result.SHA,
		Message: result.Message,
	})
}

func (s *Server) HandlerListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.Base.Workspaces.List(r.Context())
	if err != nil {
		RenderError(w, r, err)
		return
	}
	response := schemas.WorkspaceListResponse{Workspaces: make([]schemas.WorkspaceResponse, 0, len(workspaces))}
	for _, workspace := range workspaces {
		response.Workspaces = append(response.Workspaces, workspaceResponse(workspace))
	}
	RenderJSON(w, r, response)
}
