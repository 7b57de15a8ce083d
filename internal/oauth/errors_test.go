package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"cancelled", fmt.Errorf("polling: %w", ErrCancelled), ErrorCodeCancelled},
		{"context cancelled", context.Canceled, ErrorCodeCancelled},
		{"denied", ErrAccessDenied, ErrorCodeAccessDenied},
		{"expired", fmt.Errorf("polling: %w", ErrFlowExpired), ErrorCodeExpiredToken},
		{"unauthenticated", ErrUnauthenticated, ErrorCodeUnauthenticated},
		{"unauthorized", ErrUnauthorized, ErrorCodeUnauthorized},
		{"rate limited", &RateLimitError{RetryAfter: time.Minute}, ErrorCodeRateLimited},
		{"network", NetworkError("fetching usage", errors.New("connection reset")), ErrorCodeNetwork},
		{"deadline", context.DeadlineExceeded, ErrorCodeNetwork},
		{"protocol", ProtocolError("fetching usage", "missing %s", "quota"), ErrorCodeProtocol},
		{"unknown", errors.New("boom"), ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsSilent(t *testing.T) {
	if !IsSilent(fmt.Errorf("flow: %w", ErrCancelled)) {
		t.Error("cancellation should be silent")
	}
	for _, err := range []error{ErrAccessDenied, ErrFlowExpired, ErrNetwork, nil} {
		if IsSilent(err) {
			t.Errorf("IsSilent(%v) = true, want false", err)
		}
	}
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("fetching usage: %w", &RateLimitError{RetryAfter: 90 * time.Second})

	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected errors.Is(err, ErrRateLimited)")
	}
	d, ok := RetryAfter(err)
	if !ok || d != 90*time.Second {
		t.Errorf("RetryAfter() = %v, %v; want 1m30s, true", d, ok)
	}
	if _, ok := RetryAfter(ErrNetwork); ok {
		t.Error("RetryAfter should not match unrelated errors")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{"none", http.Header{}, 0},
		{"seconds", http.Header{"Retry-After": {"120"}}, 2 * time.Minute},
		{"http date", http.Header{"Retry-After": {now.Add(30 * time.Second).Format(http.TimeFormat)}}, 30 * time.Second},
		{"past date", http.Header{"Retry-After": {now.Add(-time.Hour).Format(http.TimeFormat)}}, 0},
		{"github reset", http.Header{"X-Ratelimit-Reset": {fmt.Sprint(now.Add(time.Minute).Unix())}}, time.Minute},
		{"garbage", http.Header{"Retry-After": {"soon"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.header, now); got != tt.want {
				t.Errorf("ParseRetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialRedacts(t *testing.T) {
	c := Credential("gho_secret")
	if got := fmt.Sprint(c); got != "[redacted]" {
		t.Errorf("Credential printed as %q", got)
	}
	if c.IsEmpty() {
		t.Error("non-empty credential reported empty")
	}
	if !Credential("  ").IsEmpty() {
		t.Error("blank credential should be empty")
	}
	if tok := c.Token(); tok.AccessToken != "gho_secret" || tok.Type() != "Bearer" {
		t.Errorf("Token() = %+v", tok)
	}
}

func TestIsJSON(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"", true},
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/vnd.github+json", true},
		{"text/html", false},
		{"text/plain; charset=utf-8", false},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.contentType != "" {
			resp.Header.Set("Content-Type", tt.contentType)
		}
		if got := IsJSON(resp); got != tt.want {
			t.Errorf("IsJSON(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
