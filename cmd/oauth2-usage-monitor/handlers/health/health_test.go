package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

func healthy(ctx context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	version := "1.0.0"

	tests := []struct {
		name       string
		credential Checker
		cache      Checker
		wantCode   int
		wantBody   Response
	}{
		{
			name:       "healthy system",
			credential: checkerFunc(healthy),
			cache:      checkerFunc(healthy),
			wantCode:   http.StatusOK,
			wantBody: Response{
				Status:  "healthy",
				Version: version,
				Details: map[string]any{
					"credential_store": map[string]any{"status": "healthy"},
					"snapshot_cache":   map[string]any{"status": "healthy"},
				},
			},
		},
		{
			name:       "cache unhealthy",
			credential: checkerFunc(healthy),
			cache: checkerFunc(func(ctx context.Context) error {
				return errors.New("redis unavailable")
			}),
			wantCode: http.StatusServiceUnavailable,
			wantBody: Response{
				Status:  "unhealthy",
				Version: version,
				Details: map[string]any{
					"credential_store": map[string]any{"status": "healthy"},
					"snapshot_cache": map[string]any{
						"status":  "unhealthy",
						"message": "redis unavailable",
					},
				},
			},
		},
		{
			name:       "no snapshot cache configured",
			credential: checkerFunc(healthy),
			wantCode:   http.StatusOK,
			wantBody: Response{
				Status:  "healthy",
				Version: version,
				Details: map[string]any{
					"credential_store": map[string]any{"status": "healthy"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := New().WithVersion(version).
				WithComponent("credential_store", tt.credential)
			if tt.cache != nil {
				handler.WithComponent("snapshot_cache", tt.cache)
			}

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if got := w.Code; got != tt.wantCode {
				t.Errorf("Health handler status = %v, want %v", got, tt.wantCode)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Health handler Cache-Control = %v, want no-store", got)
			}

			var got Response
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Errorf("Health handler response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
