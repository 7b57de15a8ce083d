package health

import (
	"context"
	"net/http"

	"github.com/wrale/oauth2-usage-monitor/cmd/oauth2-usage-monitor/handlers/common"
)

// Checker is implemented by every backend the monitor depends on
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// Handler processes health check requests
type Handler struct {
	components map[string]Checker
	version    string
}

// Response represents the health check response
type Response struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// New creates a new health check handler
func New() *Handler {
	return &Handler{
		components: make(map[string]Checker),
		version:    "unknown",
	}
}

// WithVersion sets the version for health check responses
func (h *Handler) WithVersion(version string) *Handler {
	h.version = version
	return h
}

// WithComponent adds a named backend to the report. A nil checker is
// ignored so optional backends can be passed unconditionally.
func (h *Handler) WithComponent(name string, c Checker) *Handler {
	if c != nil {
		h.components[name] = c
	}
	return h
}

// ServeHTTP handles health check requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := Response{
		Status:  "healthy",
		Version: h.version,
		Details: make(map[string]any, len(h.components)),
	}

	for name, c := range h.components {
		if err := c.CheckHealth(r.Context()); err != nil {
			response.Status = "unhealthy"
			response.Details[name] = map[string]any{
				"status":  "unhealthy",
				"message": err.Error(),
			}
			continue
		}
		response.Details[name] = map[string]any{
			"status": "healthy",
		}
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	common.WriteJSON(w, status, response)
}
