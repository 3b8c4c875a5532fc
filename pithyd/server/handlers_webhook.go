package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/logbuf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core"
)

// HandlerWebhook ingests execution events from the backend. The provider
// retries on non-2xx, so every outcome is acknowledged with 200.
func (s *Server) HandlerWebhook(w http.ResponseWriter, r *http.Request) {
	logger := logbuf.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("webhook body read failed", slog.String("error", err.Error()))
		RenderJSON(w, r, schemas.WebhookResponse{Status: string(core.WebhookFailed), Message: "unreadable body"})
		return
	}

	result := s.Base.Webhooks.Handle(r.Context(), body)
	logger.Info("webhook handled",
		slog.String("event", string(result.Event)),
		slog.String("result", string(result.Status)),
	)
	RenderJSON(w, r, schemas.WebhookResponse{
		Status:  string(result.Status),
		Event:   string(result.Event),
		Message: result.Message,
	})
}
