// Package usage fetches the remote usage metric with a device flow
// credential and keeps the most recent snapshot for observers
package usage

import (
	"time"

	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

// Quota is one metered allowance within a snapshot
type Quota struct {
	Name             string  `json:"name"`
	Entitlement      float64 `json:"entitlement"`
	Remaining        float64 `json:"remaining"`
	PercentRemaining float64 `json:"percent_remaining"`
	Unlimited        bool    `json:"unlimited"`
}

// PercentUsed returns the consumed share of the quota
func (q Quota) PercentUsed() float64 {
	if q.Unlimited {
		return 0
	}
	return 100 - q.PercentRemaining
}

// Snapshot is one successful usage fetch. It is immutable once created and
// replaced wholesale by the next successful fetch.
type Snapshot struct {
	Plan       string    `json:"plan"`
	ResetAt    time.Time `json:"reset_at"`
	Quotas     []Quota   `json:"quotas"`
	CapturedAt time.Time `json:"captured_at"`
}

// Quota looks up a quota by name
func (s *Snapshot) Quota(name string) (Quota, bool) {
	for _, q := range s.Quotas {
		if q.Name == name {
			return q, true
		}
	}
	return Quota{}, false
}

// State is the store's view: the last good snapshot, the last failure and
// whether a fetch is running
type State struct {
	Snapshot  *Snapshot
	LastError error
	InFlight  bool
	UpdatedAt time.Time
}

// Stale reports whether the snapshot predates a failed refresh
func (s State) Stale() bool {
	return s.Snapshot != nil && s.LastError != nil
}

// Loading reports whether nothing has been fetched yet
func (s State) Loading() bool {
	return s.Snapshot == nil && s.LastError == nil
}

// ErrorCode returns the stable code for LastError, empty when there is none
func (s State) ErrorCode() string {
	return oauth.Code(s.LastError)
}
