package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wrale/oauth2-usage-monitor/internal/deviceflow"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		code        string
		description string
		want        string
	}{
		{
			name:        "basic error",
			status:      http.StatusBadGateway,
			code:        "network_error",
			description: "usage endpoint unreachable",
			want:        "usage endpoint unreachable",
		},
		{
			name:        "description is trimmed",
			status:      http.StatusConflict,
			code:        "flow_in_progress",
			description: "  login already running \n",
			want:        "login already running",
		},
		{
			name:   "error without description",
			status: http.StatusForbidden,
			code:   "access_denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.status, tt.code, tt.description)

			if w.Code != tt.status {
				t.Errorf("WriteError() status = %v, want %v", w.Code, tt.status)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", got)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Error != tt.code || resp.ErrorDescription != tt.want {
				t.Errorf("WriteError() body = %+v", resp)
			}
		})
	}
}

func TestWriteErr(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{oauth.NetworkError("fetching usage", errors.New("dial tcp: refused")), http.StatusBadGateway, oauth.ErrorCodeNetwork},
		{fmt.Errorf("fetching usage: %w", oauth.ErrUnauthenticated), http.StatusUnauthorized, oauth.ErrorCodeUnauthenticated},
		{&oauth.RateLimitError{}, http.StatusTooManyRequests, oauth.ErrorCodeRateLimited},
		{deviceflow.ErrFlowInProgress, http.StatusConflict, oauth.ErrorCodeFlowInProgress},
		{errors.New("boom"), http.StatusInternalServerError, oauth.ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErr(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("WriteErr() status = %v, want %v", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Error != tt.wantCode {
				t.Errorf("WriteErr() error = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, math.Inf(1))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("WriteJSON() status = %v, want %v", w.Code, http.StatusInternalServerError)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Error != "server_error" || resp.ErrorDescription != "Failed to encode response" {
		t.Errorf("WriteJSON() body = %+v", resp)
	}
}
