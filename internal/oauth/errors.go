package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy shared by the device flow client, the usage fetcher and
// the usage store. Callers match with errors.Is.
var (
	// ErrNetwork indicates a transport failure talking to the provider
	ErrNetwork = errors.New("network error")

	// ErrProtocol indicates a malformed or unexpected provider response
	ErrProtocol = errors.New("protocol error")

	// ErrAccessDenied indicates the user declined the authorization request
	ErrAccessDenied = errors.New("access denied")

	// ErrFlowExpired indicates the device code expired before authorization
	ErrFlowExpired = errors.New("device code expired")

	// ErrCancelled indicates the caller abandoned the flow
	ErrCancelled = errors.New("authorization cancelled")

	// ErrUnauthenticated indicates no credential is available
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrUnauthorized indicates the provider rejected the credential
	ErrUnauthorized = errors.New("credential rejected")

	// ErrRateLimited indicates the provider asked the client to back off
	ErrRateLimited = errors.New("rate limited")
)

// Error codes surfaced to presentation layers. The device flow codes are
// the RFC 8628 section 3.5 values.
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeCancelled            = "cancelled"
	ErrorCodeNetwork              = "network_error"
	ErrorCodeProtocol             = "protocol_error"
	ErrorCodeUnauthenticated      = "unauthenticated"
	ErrorCodeUnauthorized         = "unauthorized"
	ErrorCodeRateLimited          = "rate_limited"
	ErrorCodeFlowInProgress       = "flow_in_progress"
	ErrorCodeServerError          = "server_error"
)

// RateLimitError carries the provider's retry-after hint
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

// Unwrap makes errors.Is(err, ErrRateLimited) hold
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// NetworkError wraps a transport failure for the named operation
func NetworkError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

// ProtocolError reports a malformed response for the named operation
func ProtocolError(op string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrProtocol, fmt.Sprintf(format, args...))
}

// RetryAfter extracts the retry-after hint from a rate limit failure
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsSilent reports whether err represents voluntary abandonment that must
// not be shown to the user as a failure
func IsSilent(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Code maps an error onto a stable code so callers can tell failures apart
// without string matching. A nil error maps to the empty string.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsSilent(err):
		return ErrorCodeCancelled
	case errors.Is(err, ErrAccessDenied):
		return ErrorCodeAccessDenied
	case errors.Is(err, ErrFlowExpired):
		return ErrorCodeExpiredToken
	case errors.Is(err, ErrUnauthenticated):
		return ErrorCodeUnauthenticated
	case errors.Is(err, ErrUnauthorized):
		return ErrorCodeUnauthorized
	case errors.Is(err, ErrRateLimited):
		return ErrorCodeRateLimited
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeNetwork
	case errors.Is(err, ErrProtocol):
		return ErrorCodeProtocol
	default:
		return ErrorCodeServerError
	}
}
