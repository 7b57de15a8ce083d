package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/oauth2-usage-monitor/internal/metrics"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/poll"
)

// GrantTypeDeviceCode is the device access token grant per RFC 8628 section 3.4
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

const opPollToken = "polling for token"

type outcome = poll.Outcome[oauth.Credential]

// pollToken sends one device access token request and classifies the
// response per RFC 8628 section 3.5. Transport failures and responses that
// carry neither a token nor a recognizable error are treated as pending.
func (c *Client) pollToken(ctx context.Context, code *DeviceCode) outcome {
	form := url.Values{
		"client_id":   {c.config.ClientID},
		"device_code": {code.DeviceCode},
		"grant_type":  {GrantTypeDeviceCode},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return poll.Fail[oauth.Credential](oauth.ProtocolError(opPollToken, "building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The scheduler reports the cancellation
			return poll.Pending[oauth.Credential]()
		}
		return c.transient("request failed", oauth.ErrorCodeNetwork, zap.Error(err))
	}
	defer resp.Body.Close()

	body, err := oauth.ReadBody(resp)
	if err != nil {
		return c.transient("reading response failed", oauth.ErrorCodeNetwork, zap.Error(err))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return c.transient("provider error", oauth.ErrorCodeServerError, zap.Int("status", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return c.transient("unparsable response", "unexpected",
			zap.Int("status", resp.StatusCode), zap.Error(err))
	}

	return c.classify(&tr, resp.StatusCode)
}

func (c *Client) classify(tr *tokenResponse, status int) outcome {
	switch tr.Error {
	case "":
		if tr.AccessToken == "" {
			return c.transient("response without token", "unexpected", zap.Int("status", status))
		}
		metrics.TokenPollsTotal.WithLabelValues("token").Inc()
		return poll.Done(oauth.Credential(tr.AccessToken))

	case oauth.ErrorCodeAuthorizationPending:
		metrics.TokenPollsTotal.WithLabelValues(tr.Error).Inc()
		return poll.Pending[oauth.Credential]()

	case oauth.ErrorCodeSlowDown:
		metrics.TokenPollsTotal.WithLabelValues(tr.Error).Inc()
		c.logger.Debug("provider asked to slow down", zap.Int("interval", tr.Interval))
		return poll.SlowDown[oauth.Credential](time.Duration(tr.Interval) * time.Second)

	case oauth.ErrorCodeAccessDenied:
		metrics.TokenPollsTotal.WithLabelValues(tr.Error).Inc()
		return poll.Fail[oauth.Credential](fmt.Errorf("%s: %w", opPollToken, oauth.ErrAccessDenied))

	case oauth.ErrorCodeExpiredToken:
		metrics.TokenPollsTotal.WithLabelValues(tr.Error).Inc()
		return poll.Fail[oauth.Credential](fmt.Errorf("%s: %w", opPollToken, oauth.ErrFlowExpired))

	default:
		// invalid_client, invalid_grant, unsupported_grant_type and friends
		// will not resolve by polling again
		metrics.TokenPollsTotal.WithLabelValues("other").Inc()
		return poll.Fail[oauth.Credential](oauth.ProtocolError(opPollToken, "%s: %s", tr.Error, tr.ErrorDescription))
	}
}

func (c *Client) transient(msg, label string, fields ...zap.Field) outcome {
	metrics.TokenPollsTotal.WithLabelValues(label).Inc()
	c.logger.Warn("token poll "+msg+", retrying", fields...)
	return poll.Pending[oauth.Credential]()
}
