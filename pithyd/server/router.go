package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/version", s.HandlerVersion)

	r.Route("/tasks", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/", s.HandlerCreateTask)
		r.Get("/", s.HandlerListTasks)
		r.Get("/{id}", s.HandlerGetTask)
		r.Post("/{id}/execute", s.HandlerExecuteTask)
		r.Post("/{id}/cancel", s.HandlerCancelTask)
		r.Post("/{id}/approve", s.HandlerApproveTask)
		r.Post("/{id}/sync-status", s.HandlerSyncTaskStatus)
		r.Get("/{id}/logs", s.HandlerStreamLogs)
		r.Get("/{id}/logs/ws", s.HandlerStreamLogsWS)
	})
	r.With(requireUser).Get("/workspaces", s.HandlerListWorkspaces)

	r.Post("/webhooks/execution", s.HandlerWebhook)
	r.With(s.requireOperator).Post("/maintenance/sweep", s.HandlerSweep)
	return r
}
