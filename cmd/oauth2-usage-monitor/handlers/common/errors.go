package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wrale/oauth2-usage-monitor/internal/deviceflow"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

// ErrorResponse follows the RFC 8628 section 3.5 error shape
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// SetJSONHeaders sets the headers shared by every JSON response
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
}

// WriteJSON writes v with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetJSONHeaders(w)

	body, err := json.Marshal(v)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// WriteError sends a standardized error response
func WriteError(w http.ResponseWriter, status int, code string, description string) {
	WriteJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: strings.TrimSpace(description),
	})
}

// WriteErr maps err onto its stable code and HTTP status
func WriteErr(w http.ResponseWriter, err error) {
	code := oauth.Code(err)
	if errors.Is(err, deviceflow.ErrFlowInProgress) {
		code = oauth.ErrorCodeFlowInProgress
	}
	WriteError(w, StatusFor(code), code, err.Error())
}

// StatusFor returns the HTTP status used for an error code
func StatusFor(code string) int {
	switch code {
	case oauth.ErrorCodeUnauthenticated, oauth.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case oauth.ErrorCodeAccessDenied:
		return http.StatusForbidden
	case oauth.ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case oauth.ErrorCodeNetwork, oauth.ErrorCodeProtocol:
		return http.StatusBadGateway
	case oauth.ErrorCodeFlowInProgress, oauth.ErrorCodeCancelled:
		return http.StatusConflict
	case oauth.ErrorCodeExpiredToken:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSONError handles JSON encoding failures with a standardized response
func WriteJSONError(w http.ResponseWriter, err error) {
	SetJSONHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)

	// Built by hand since encoding just failed
	_, _ = w.Write([]byte(`{"error":"server_error","error_description":"Failed to encode response"}` + "\n"))
}
