package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jakebutler/pithy-jaunt-sub000/internals/logbuf"
	"github.com/jakebutler/pithy-jaunt-sub000/internals/remote"
	"github.com/jakebutler/pithy-jaunt-sub000/pithyd/core"
)

// RenderError maps a core error onto the JSON error envelope.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	var stateErr *core.InvalidStateError
	switch {
	case errors.As(err, &stateErr):
		payload := JsonResponseError(JsonResponseErrorCodeInvalidState, err.Error(), nil)
		payload.CurrentStatus = string(stateErr.Current)
		RenderJSON(w, r, payload, Render.Status(http.StatusConflict))
	case errors.Is(err, core.ErrValidation):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, err.Error(), nil), Render.Status(http.StatusBadRequest))
	case errors.Is(err, core.ErrForbidden):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeForbidden, "task belongs to another user", nil), Render.Status(http.StatusForbidden))
	case errors.Is(err, core.ErrNotFound):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "not found", nil), Render.Status(http.StatusNotFound))
	case errors.Is(err, core.ErrProvisioning):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeProvisioningFailed, err.Error(), nil), Render.Status(http.StatusBadGateway))
	case errors.Is(err, core.ErrMergeUnavailable):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeMergeUnavailable, err.Error(), nil), Render.Status(http.StatusUnprocessableEntity))
	case errors.Is(err, remote.ErrAuthRequired):
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeAuthRequired, err.Error(), nil), Render.Status(http.StatusUnauthorized))
	default:
		logbuf.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "internal error", nil), Render.Status(http.StatusInternalServerError))
	}
}
