package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/logbuf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/timeouts"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core"
)

// HandlerStreamLogs serves a task's execution logs as server-sent events.
func (s *Server) HandlerStreamLogs(w http.ResponseWriter, r *http.Request) {
	task, err := s.Base.Tasks.GetOwned(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		RenderError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		RenderError(w, r, fmt.Errorf("streaming unsupported by response writer"))
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emitter := core.EmitterFunc(func(ctx context.Context, event schemas.LogEvent) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	if err := s.Base.Streams.Run(r.Context(), task.ID, emitter); err != nil {
		logbuf.FromContext(r.Context()).Debug("sse stream ended", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}
}

// HandlerStreamLogsWS serves the same events over a websocket. Client
// messages are discarded; reading only detects disconnects.
func (s *Server) HandlerStreamLogsWS(w http.ResponseWriter, r *http.Request) {
	task, err := s.Base.Tasks.GetOwned(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		RenderError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	emitter := core.EmitterFunc(func(ctx context.Context, event schemas.LogEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(timeouts.SecondDefault))
		return conn.WriteJSON(event)
	})

	err = s.Base.Streams.Run(ctx, task.ID, emitter)
	if err != nil {
		logbuf.FromContext(r.Context()).Debug("websocket stream ended", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeouts.SecondShort))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
