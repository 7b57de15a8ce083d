// Package deviceflow implements the client side of the OAuth 2.0 Device
// Authorization Grant (RFC 8628)
package deviceflow

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Option configures the device flow client
type Option func(*Client)

// WithHTTPClient sets the client used for device code and token requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock sets the clock used for poll waits and the expiry deadline
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMaxPollInterval caps growth of the poll interval on slow_down
// per RFC 8628 section 3.5
func WithMaxPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.maxInterval = d
	}
}
