// Package oauth provides the identity provider integration shared by the
// device flow client and the usage fetcher
package oauth

import (
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// DefaultClientID is the public OAuth app used by Copilot editor integrations
const DefaultClientID = "Iv1.b507a08c87ecfe98"

// DefaultUsageURL is GitHub's Copilot entitlement endpoint
const DefaultUsageURL = "https://api.github.com/copilot_internal/user"

// Credential is an opaque bearer token handed out by the device flow.
// It is never persisted by this package.
type Credential string

// String redacts the token so credentials can't leak through logs
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Token converts the credential into an oauth2 token for HTTP transports
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{AccessToken: string(c), TokenType: "Bearer"}
}

// IsEmpty reports whether no usable credential is present
func (c Credential) IsEmpty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// Config holds the provider settings threaded into each component at
// construction time
type Config struct {
	ClientID      string
	Scopes        []string
	DeviceAuthURL string
	TokenURL      string
	UsageURL      string
}

// DefaultConfig returns GitHub endpoints with the Copilot client ID
func DefaultConfig() Config {
	return Config{
		ClientID:      DefaultClientID,
		Scopes:        []string{"read:user"},
		DeviceAuthURL: endpoints.GitHub.DeviceAuthURL,
		TokenURL:      endpoints.GitHub.TokenURL,
		UsageURL:      DefaultUsageURL,
	}
}

// OAuth2 returns the x/oauth2 view of the provider configuration
func (c Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Scopes:   c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       endpoints.GitHub.AuthURL,
			DeviceAuthURL: c.DeviceAuthURL,
			TokenURL:      c.TokenURL,
		},
	}
}
