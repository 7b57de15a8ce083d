package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/wrale/oauth2-usage-monitor/internal/metrics"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
)

// DefaultRequestTimeout bounds a single usage request
const DefaultRequestTimeout = 15 * time.Second

const opFetch = "fetching usage"

// Fetcher performs one usage request with a credential
type Fetcher interface {
	Fetch(ctx context.Context, cred oauth.Credential) (*Snapshot, error)
}

// HTTPFetcher reads Copilot quotas from GitHub's entitlement endpoint. It
// holds no per-call state and may be shared.
type HTTPFetcher struct {
	url       string
	transport http.RoundTripper
	timeout   time.Duration
	clock     clockwork.Clock
	userAgent string
}

// FetcherOption configures an HTTPFetcher
type FetcherOption func(*HTTPFetcher)

// WithTransport sets the base transport under the bearer token transport
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *HTTPFetcher) {
		f.transport = rt
	}
}

// WithRequestTimeout sets the per-request timeout
func WithRequestTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
	}
}

// WithFetcherClock sets the clock used for capture times and retry hints
func WithFetcherClock(clock clockwork.Clock) FetcherOption {
	return func(f *HTTPFetcher) {
		f.clock = clock
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// NewHTTPFetcher creates a fetcher for the usage endpoint
func NewHTTPFetcher(url string, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		url:       url,
		transport: http.DefaultTransport,
		timeout:   DefaultRequestTimeout,
		clock:     clockwork.NewRealClock(),
		userAgent: "oauth2-usage-monitor",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type usageResponse struct {
	Plan           string                   `json:"copilot_plan"`
	ResetDate      string                   `json:"quota_reset_date"`
	QuotaSnapshots map[string]quotaSnapshot `json:"quota_snapshots"`
}

type quotaSnapshot struct {
	Entitlement      float64 `json:"entitlement"`
	Remaining        float64 `json:"remaining"`
	PercentRemaining float64 `json:"percent_remaining"`
	Unlimited        bool    `json:"unlimited"`
}

// Fetch performs one request. It never retries: rate limits come back as
// *oauth.RateLimitError for the caller to honour.
func (f *HTTPFetcher) Fetch(ctx context.Context, cred oauth.Credential) (*Snapshot, error) {
	if cred.IsEmpty() {
		return nil, fmt.Errorf("%s: %w", opFetch, oauth.ErrUnauthenticated)
	}

	client := &http.Client{
		Timeout: f.timeout,
		Transport: &oauth2.Transport{
			Base:   f.transport,
			Source: oauth2.StaticTokenSource(cred.Token()),
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, oauth.ProtocolError(opFetch, "building request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	start := f.clock.Now()
	resp, err := client.Do(req)
	metrics.UsageFetchDuration.Observe(f.clock.Since(start).Seconds())
	if err != nil {
		return nil, oauth.NetworkError(opFetch, err)
	}
	defer resp.Body.Close()

	body, err := oauth.ReadBody(resp)
	if err != nil {
		return nil, oauth.NetworkError(opFetch, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if !oauth.IsJSON(resp) {
			return nil, oauth.ProtocolError(opFetch, "unexpected content type %q", resp.Header.Get("Content-Type"))
		}
		return f.decode(body)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s: %w", opFetch, oauth.ErrUnauthorized)
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, fmt.Errorf("%s: %w", opFetch, f.rateLimited(resp))
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", opFetch, oauth.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", opFetch, f.rateLimited(resp))
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, oauth.NetworkError(opFetch, fmt.Errorf("provider returned %s", resp.Status))
	default:
		if errResp, ok := oauth.DecodeError(body); ok {
			return nil, oauth.ProtocolError(opFetch, "%s: %s", errResp.Error, errResp.ErrorDescription)
		}
		return nil, oauth.ProtocolError(opFetch, "unexpected status %s", resp.Status)
	}
}

func (f *HTTPFetcher) rateLimited(resp *http.Response) *oauth.RateLimitError {
	return &oauth.RateLimitError{RetryAfter: oauth.ParseRetryAfter(resp.Header, f.clock.Now())}
}

func (f *HTTPFetcher) decode(body []byte) (*Snapshot, error) {
	var ur usageResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return nil, oauth.ProtocolError(opFetch, "decoding response: %v", err)
	}
	if ur.QuotaSnapshots == nil {
		return nil, oauth.ProtocolError(opFetch, "response missing quota_snapshots")
	}

	snap := &Snapshot{
		Plan:       ur.Plan,
		ResetAt:    parseResetDate(ur.ResetDate),
		Quotas:     make([]Quota, 0, len(ur.QuotaSnapshots)),
		CapturedAt: f.clock.Now(),
	}
	for name, q := range ur.QuotaSnapshots {
		snap.Quotas = append(snap.Quotas, Quota{
			Name:             name,
			Entitlement:      q.Entitlement,
			Remaining:        q.Remaining,
			PercentRemaining: q.PercentRemaining,
			Unlimited:        q.Unlimited,
		})
	}
	sort.Slice(snap.Quotas, func(i, j int) bool {
		return snap.Quotas[i].Name < snap.Quotas[j].Name
	})

	return snap, nil
}

// parseResetDate accepts a calendar date or a full timestamp. The reset
// date is informational, so an unknown format yields the zero time.
func parseResetDate(s string) time.Time {
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
