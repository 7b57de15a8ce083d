package oauth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBodySize bounds how much of a provider response is read
const maxBodySize = 1 << 20

// ErrorResponse is the OAuth error body per RFC 6749 section 5.2
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ReadBody drains a provider response up to maxBodySize
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// IsJSON reports whether the response declares a JSON body. A missing
// Content-Type is accepted.
func IsJSON(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return ct == "" || strings.Contains(ct, "json")
}

// DecodeError extracts an OAuth error from a body, if it carries one
func DecodeError(body []byte) (*ErrorResponse, bool) {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return nil, false
	}
	if errResp.Error == "" {
		return nil, false
	}
	return &errResp, true
}

// ParseRetryAfter reads the Retry-After header (delta-seconds or HTTP-date),
// falling back to GitHub's X-RateLimit-Reset epoch header
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
