// Package login drives device flow sign-in sessions over HTTP
package login

import (
	"context"
	"net/http"
	"time"

	"github.com/wrale/oauth2-usage-monitor/cmd/oauth2-usage-monitor/handlers/common"
	"github.com/wrale/oauth2-usage-monitor/internal/session"
)

// DefaultCancelWait bounds how long DELETE waits for the session to wind down
const DefaultCancelWait = 5 * time.Second

// Sessions is the part of session.Manager the handler needs
type Sessions interface {
	Start(ctx context.Context) (session.Status, error)
	Status() session.Status
	Cancel()
	Wait(ctx context.Context) session.Status
}

// Handler serves the login endpoints
type Handler struct {
	sessions Sessions
}

// New creates a login handler
func New(sessions Sessions) *Handler {
	return &Handler{sessions: sessions}
}

// Start begins a session and returns the code the user must enter.
// A session already in progress yields 409.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessions.Start(r.Context())
	if err != nil {
		common.WriteErr(w, err)
		return
	}
	common.WriteJSON(w, http.StatusAccepted, st)
}

// Status reports the current or most recent session
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, h.sessions.Status())
}

// Cancel abandons the active session and returns its final status
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.sessions.Cancel()

	ctx, cancel := context.WithTimeout(r.Context(), DefaultCancelWait)
	defer cancel()
	common.WriteJSON(w, http.StatusOK, h.sessions.Wait(ctx))
}
