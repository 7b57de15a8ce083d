package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/wrale/oauth2-usage-monitor/internal/metrics"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/poll"
	"github.com/wrale/oauth2-usage-monitor/internal/validation"
)

// DefaultHTTPTimeout bounds each request to the provider
const DefaultHTTPTimeout = 30 * time.Second

// ErrFlowFinished is returned when polling is requested for a device code
// whose attempt already reached a terminal state
var ErrFlowFinished = errors.New("device flow attempt already finished")

// Client drives device authorization attempts against one provider.
// At most one attempt is active at a time.
type Client struct {
	config      *oauth2.Config
	httpClient  *http.Client
	clock       clockwork.Clock
	logger      *zap.Logger
	maxInterval time.Duration

	mu      sync.Mutex
	state   State
	current *DeviceCode
	cancel  context.CancelFunc
}

// NewClient creates a device flow client for the provider
func NewClient(cfg oauth.Config, opts ...Option) *Client {
	c := &Client{
		config:      cfg.OAuth2(),
		httpClient:  &http.Client{Timeout: DefaultHTTPTimeout},
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		maxInterval: poll.DefaultMaxInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the state of the current or most recent attempt
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authorize runs a complete attempt: it requests a device code, hands it to
// present for display, and polls until the attempt terminates
func (c *Client) Authorize(ctx context.Context, present func(*DeviceCode) error) (oauth.Credential, error) {
	code, err := c.RequestDeviceCode(ctx)
	if err != nil {
		return "", err
	}

	if err := present(code); err != nil {
		c.Cancel()
		return "", fmt.Errorf("presenting device code: %w", err)
	}

	return c.PollForToken(ctx, code)
}

// RequestDeviceCode starts an attempt per RFC 8628 section 3.1. A failed
// request returns the client to idle so the caller may retry.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return nil, ErrFlowInProgress
	}
	c.state = StateCodeRequested
	c.current = nil
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Debug("requesting device code", zap.String("url", c.config.Endpoint.DeviceAuthURL))
	code, err := c.requestDeviceCode(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = nil

	if c.state == StateCancelled || ctx.Err() != nil {
		c.finishLocked(StateCancelled)
		return nil, fmt.Errorf("requesting device code: %w", oauth.ErrCancelled)
	}
	if err != nil {
		c.state = StateIdle
		c.logger.Warn("device code request failed", zap.Error(err))
		return nil, err
	}

	c.current = code
	c.logger.Info("device code issued",
		zap.String("user_code", code.UserCode),
		zap.String("verification_uri", code.VerificationURI),
		zap.Time("expires_at", code.ExpiresAt),
		zap.Int("interval", code.Interval))
	return code, nil
}

// PollForToken polls the token endpoint per RFC 8628 section 3.4 until the
// user approves or denies the request, the code expires, or the attempt is
// cancelled. The first request is sent immediately.
func (c *Client) PollForToken(ctx context.Context, code *DeviceCode) (oauth.Credential, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.startPolling(code, cancel); err != nil {
		return "", err
	}

	sched := poll.New(code.PollInterval(),
		poll.WithClock(c.clock),
		poll.WithDeadline(code.ExpiresAt),
		poll.WithMaxInterval(c.maxInterval),
		poll.WithLogger(c.logger))

	cred, err := poll.Run(ctx, sched, func(ctx context.Context) poll.Outcome[oauth.Credential] {
		return c.pollToken(ctx, code)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = nil

	switch {
	case c.state == StateCancelled || ctx.Err() != nil:
		c.finishLocked(StateCancelled)
		return "", fmt.Errorf("polling for token: %w", oauth.ErrCancelled)
	case err == nil:
		c.finishLocked(StateAuthorized)
		return cred, nil
	case errors.Is(err, poll.ErrDeadlineExceeded):
		c.finishLocked(StateExpired)
		return "", fmt.Errorf("polling for token: %w", oauth.ErrFlowExpired)
	case errors.Is(err, oauth.ErrFlowExpired):
		c.finishLocked(StateExpired)
	case errors.Is(err, oauth.ErrAccessDenied):
		c.finishLocked(StateDenied)
	default:
		c.finishLocked(StateFailed)
	}
	return "", err
}

// Cancel abandons the active attempt. A request in flight is aborted through
// its context. Cancel is a no-op when no attempt is active.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active() {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.finishLocked(StateCancelled)
}

func (c *Client) startPolling(code *DeviceCode, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateCodeRequested && code == c.current:
	case c.state.Active():
		return ErrFlowInProgress
	case code == c.current && c.state == StateCancelled:
		return fmt.Errorf("polling for token: %w", oauth.ErrCancelled)
	case code == c.current && c.state.Terminal():
		return ErrFlowFinished
	}

	c.state = StatePolling
	c.current = code
	c.cancel = cancel
	return nil
}

// finishLocked moves the attempt into a terminal state. c.mu must be held.
func (c *Client) finishLocked(s State) {
	if c.state.Terminal() {
		return
	}
	c.state = s
	metrics.DeviceFlowTotal.WithLabelValues(s.String()).Inc()
	if s == StateCancelled {
		c.logger.Debug("device flow cancelled")
		return
	}
	c.logger.Info("device flow finished", zap.Stringer("state", s))
}

// requestDeviceCode stops waiting when ctx is cancelled; the request itself
// runs to completion and its result is dropped
func (c *Client) requestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	type result struct {
		resp *oauth2.DeviceAuthResponse
		err  error
	}

	reqCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, c.httpClient)
	done := make(chan result, 1)
	go func() {
		resp, err := c.config.DeviceAuth(reqCtx)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, deviceAuthError(r.err)
		}
		return c.newDeviceCode(r.resp)
	}
}

const opRequestCode = "requesting device code"

func deviceAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return oauth.NetworkError(opRequestCode, err)
		}
		return oauth.ProtocolError(opRequestCode, "%s", strings.TrimSpace(string(retrieveErr.Body)))
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return oauth.NetworkError(opRequestCode, err)
	}

	return oauth.ProtocolError(opRequestCode, "%v", err)
}

// newDeviceCode validates the provider response per RFC 8628 section 3.2
func (c *Client) newDeviceCode(resp *oauth2.DeviceAuthResponse) (*DeviceCode, error) {
	if resp.DeviceCode == "" {
		return nil, oauth.ProtocolError(opRequestCode, "response missing device_code")
	}
	if err := validation.ValidateUserCode(resp.UserCode); err != nil {
		return nil, oauth.ProtocolError(opRequestCode, "%v", err)
	}
	if err := validation.ValidateVerificationURI(resp.VerificationURI); err != nil {
		return nil, oauth.ProtocolError(opRequestCode, "%v", err)
	}
	if resp.Expiry.IsZero() {
		return nil, oauth.ProtocolError(opRequestCode, "response missing expires_in")
	}

	// x/oauth2 resolves expires_in against the wall clock
	expiresIn := int(math.Round(time.Until(resp.Expiry).Seconds()))
	if expiresIn <= 0 {
		return nil, oauth.ProtocolError(opRequestCode, "expires_in must be positive")
	}

	interval := int(resp.Interval)
	switch {
	case interval == 0:
		interval = DefaultInterval
	case interval < 0:
		return nil, oauth.ProtocolError(opRequestCode, "interval must be positive")
	}

	return &DeviceCode{
		DeviceCode:              resp.DeviceCode,
		UserCode:                strings.TrimSpace(resp.UserCode),
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresIn:               expiresIn,
		Interval:                interval,
		ExpiresAt:               c.clock.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
