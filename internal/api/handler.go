// Package api provides the status HTTP server of a running session.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"dagpilot/internal/health"
	"dagpilot/internal/lifecycle"
	"dagpilot/internal/notify"
)

// SessionSource exposes the state of the running session.
// *lifecycle.Controller implements it.
type SessionSource interface {
	Snapshot() lifecycle.Snapshot
}

// StatsSource exposes webhook delivery counters. notify.Notifier implements it.
type StatsSource interface {
	Stats() notify.Stats
}

// Handler contains HTTP handlers for the status API
type Handler struct {
	session  SessionSource
	notifier StatsSource
	health   *health.Checker
	cancel   func()
}

// NewHandler creates a new API handler
func NewHandler(session SessionSource, notifier StatsSource, healthChecker *health.Checker, cancel func()) *Handler {
	return &Handler{
		session:  session,
		notifier: notifier,
		health:   healthChecker,
		cancel:   cancel,
	}
}

// GetSession handles GET /v1/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		h.writeError(w, http.StatusServiceUnavailable, "No session running")
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// CancelSession handles POST /v1/session/cancel.
// The session stops with an aborted fault; a live run is aborted first.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if h.cancel == nil || h.session == nil {
		h.writeError(w, http.StatusServiceUnavailable, "No session running")
		return
	}
	snap := h.session.Snapshot()
	if snap.State.IsTerminal() {
		h.writeError(w, http.StatusConflict, "Session already finished in state "+string(snap.State))
		return
	}

	slog.WarnContext(r.Context(), "Session cancel requested", "sessionId", snap.SessionID, "state", snap.State)
	h.cancel()
	w.WriteHeader(http.StatusAccepted)
}

// GetNotifier handles GET /v1/notifier
func (h *Handler) GetNotifier(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		h.writeJSON(w, http.StatusOK, notify.Stats{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.notifier.Stats())
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if Docker or Airflow cannot be reached.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	jsonError(w, status, message)
}
