package server

import (
	"log/slog"
	"net/http"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/logbuf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/schemas"
)

func (s *Server) HandlerSweep(w http.ResponseWriter, r *http.Request) {
	summary := s.Base.Maintenance.Sweep(r.Context())

	results := summary.Cleanup.Results
	if results == nil {
		results = []schemas.CleanupResult{}
	}
	reconciliation := summary.Reconciliation
	if reconciliation.Details == nil {
		reconciliation.Details = []schemas.ReconcileDetail{}
	}

	response := schemas.SweepResponse{
		Processed:      summary.Cleanup.Processed,
		Terminated:     summary.Cleanup.Terminated,
		Errors:         summary.Cleanup.Errors + reconciliation.Errors,
		Results:        results,
		Reconciliation: reconciliation,
	}
	logbuf.FromContext(r.Context()).Info("sweep finished",
		slog.Int("processed", response.Processed),
		slog.Int("terminated", response.Terminated),
		slog.Int("errors", response.Errors),
	)
	RenderJSON(w, r, response)
}
