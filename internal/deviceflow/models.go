package deviceflow

import (
	"fmt"
	"time"
)

// DefaultInterval is used when the provider omits interval
// per RFC 8628 section 3.2
const DefaultInterval = 5

// DeviceCode represents the device authorization details per RFC 8628 section 3.2.
// It is immutable once issued and belongs to a single flow attempt.
type DeviceCode struct {
	// Required fields per RFC 8628 section 3.2
	DeviceCode      string `json:"-"` // Only ever sent back to the token endpoint
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"` // Lifetime in seconds when issued
	Interval        int    `json:"interval"`   // Poll interval in seconds

	// Optional verification_uri_complete field per RFC 8628 section 3.3.1
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	// Absolute client-side deadline derived from expires_in
	ExpiresAt time.Time `json:"expires_at"`
}

// PollInterval returns the minimum wait between token requests
func (d *DeviceCode) PollInterval() time.Duration {
	return time.Duration(d.Interval) * time.Second
}

// tokenResponse is the token endpoint body per RFC 8628 section 3.5. GitHub
// reports errors with HTTP 200, so both halves share one struct.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope,omitempty"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Interval         int    `json:"interval,omitempty"`
}

// State is the position of a flow attempt in its lifecycle
type State int

// Idle -> CodeRequested -> Polling -> {Authorized, Denied, Expired, Cancelled, Failed}
const (
	StateIdle State = iota
	StateCodeRequested
	StatePolling
	StateAuthorized
	StateDenied
	StateExpired
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateCodeRequested: "code_requested",
	StatePolling:       "polling",
	StateAuthorized:    "authorized",
	StateDenied:        "denied",
	StateExpired:       "expired",
	StateCancelled:     "cancelled",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown device flow state %q", text)
}

// Active reports whether an attempt in this state blocks a new attempt
func (s State) Active() bool {
	return s == StateCodeRequested || s == StatePolling
}

// Terminal reports whether no transition leaves this state
func (s State) Terminal() bool {
	return s >= StateAuthorized
}
