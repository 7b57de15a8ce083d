// Package usage serves the usage snapshot and the refresh and logout
// actions that change it
package usage

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/oauth2-usage-monitor/cmd/oauth2-usage-monitor/handlers/common"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/usage"
)

// Store is the part of usage.Store the handler needs
type Store interface {
	State() usage.State
	Refresh(ctx context.Context) usage.State
	ForceRefresh(ctx context.Context) usage.State
}

// CredentialDeleter removes the stored credential on logout
type CredentialDeleter interface {
	Delete(ctx context.Context) error
}

// Response is the JSON view of usage.State
type Response struct {
	Snapshot          *usage.Snapshot `json:"snapshot"`
	Error             string          `json:"error,omitempty"`
	ErrorDescription  string          `json:"error_description,omitempty"`
	RetryAfterSeconds int             `json:"retry_after_seconds,omitempty"`
	InFlight          bool            `json:"in_flight"`
	Stale             bool            `json:"stale"`
	Loading           bool            `json:"loading"`
	UpdatedAt         *time.Time      `json:"updated_at,omitempty"`
}

// NewResponse converts a store state for the wire
func NewResponse(st usage.State) Response {
	resp := Response{
		Snapshot: st.Snapshot,
		Error:    st.ErrorCode(),
		InFlight: st.InFlight,
		Stale:    st.Stale(),
		Loading:  st.Loading(),
	}
	if st.LastError != nil {
		resp.ErrorDescription = st.LastError.Error()
	}
	if d, ok := oauth.RetryAfter(st.LastError); ok && d > 0 {
		resp.RetryAfterSeconds = int(d.Round(time.Second) / time.Second)
	}
	if !st.UpdatedAt.IsZero() {
		updated := st.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

// Handler serves the usage endpoints
type Handler struct {
	store  Store
	creds  CredentialDeleter
	logger *zap.Logger
}

// New creates a usage handler
func New(store Store, creds CredentialDeleter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, creds: creds, logger: logger}
}

// Get returns the current state without touching the network
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(w, http.StatusOK, NewResponse(h.store.State()))
}

// Refresh fetches a new snapshot. With force=true any in-flight fetch is
// superseded instead of joined.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		var err error
		if force, err = strconv.ParseBool(v); err != nil {
			common.WriteError(w, http.StatusBadRequest, "invalid_request", "force must be a boolean")
			return
		}
	}

	var st usage.State
	if force {
		st = h.store.ForceRefresh(r.Context())
	} else {
		st = h.store.Refresh(r.Context())
	}
	common.WriteJSON(w, http.StatusOK, NewResponse(st))
}

// Logout deletes the stored credential and refreshes so the state reports
// the signed-out condition. The last snapshot is kept and marked stale.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.Delete(r.Context()); err != nil {
		h.logger.Error("deleting credential", zap.Error(err))
		common.WriteErr(w, err)
		return
	}
	h.logger.Info("credential deleted")

	common.WriteJSON(w, http.StatusOK, NewResponse(h.store.ForceRefresh(r.Context())))
}
