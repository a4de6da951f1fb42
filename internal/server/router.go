// Package server exposes the session surface over HTTP. Agents never talk to
// this API directly; the host process creates sessions here and relays agent
// output into them.
package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kathoros-ai/proxenos/internal/auth"
	"github.com/kathoros-ai/proxenos/internal/session"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Sessions *session.Manager
	Auth     auth.Authenticator
	Logger   *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/proxenos/sessions", deps.authMiddleware(deps.handleCreateSession))
	mux.HandleFunc("POST /v1/proxenos/sessions/{session_id}/output", deps.authMiddleware(deps.handleAgentOutput))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return requestLogging(mux, deps.Logger)
}
