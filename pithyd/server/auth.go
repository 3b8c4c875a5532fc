package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	HeaderUserID        = "X-User-Id"
	HeaderOperatorToken = "X-Operator-Token"
)

type userKey struct{}

// requireUser reads the caller identity set by the fronting session layer.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeAuthRequired, HeaderUserID+" header is required", nil), Render.Status(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userKey{}).(string)
	return userID
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.Base.Env.OPERATOR_TOKEN
		given := r.Header.Get(HeaderOperatorToken)
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(given)) != 1 {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeAuthRequired, "operator token required", nil), Render.Status(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}
