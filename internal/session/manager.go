// Package session runs device flow logins in the background so a user
// interface can show the code, watch progress and cancel at any time
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wrale/oauth2-usage-monitor/internal/deviceflow"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/usage"
)

// DefaultSaveTimeout bounds handing the credential to the sink
const DefaultSaveTimeout = 10 * time.Second

// Sink receives the credential once the user approves
type Sink interface {
	Save(ctx context.Context, cred oauth.Credential) error
}

// Refresher is notified after a successful login
type Refresher interface {
	ForceRefresh(ctx context.Context) usage.State
}

// Status describes the current or most recent login session
type Status struct {
	State                   deviceflow.State `json:"state"`
	UserCode                string           `json:"user_code,omitempty"`
	VerificationURI         string           `json:"verification_uri,omitempty"`
	VerificationURIComplete string           `json:"verification_uri_complete,omitempty"`
	ExpiresAt               *time.Time       `json:"expires_at,omitempty"`
	Error                   string           `json:"error,omitempty"`
	ErrorDescription        string           `json:"error_description,omitempty"`
}

// Option configures the manager
type Option func(*Manager)

// WithRefresher forces a usage refresh after each successful login
func WithRefresher(r Refresher) Option {
	return func(m *Manager) {
		m.refresher = r
	}
}

// WithLogger sets the manager logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager owns the background login session. The device flow client
// guarantees at most one session runs at a time.
type Manager struct {
	client    *deviceflow.Client
	sink      Sink
	refresher Refresher
	logger    *zap.Logger

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// NewManager creates a session manager
func NewManager(client *deviceflow.Client, sink Sink, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		sink:   sink,
		logger: zap.NewNop(),
		status: Status{State: deviceflow.StateIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start requests a device code and polls for approval in the background.
// It returns deviceflow.ErrFlowInProgress while another session is active.
func (m *Manager) Start(ctx context.Context) (Status, error) {
	code, err := m.client.RequestDeviceCode(ctx)
	if errors.Is(err, deviceflow.ErrFlowInProgress) {
		return m.Status(), err
	}
	if err != nil {
		m.mu.Lock()
		m.status = Status{State: m.client.State()}
		m.setErrorLocked(err)
		m.done = nil
		m.mu.Unlock()
		return m.Status(), err
	}

	expiresAt := code.ExpiresAt
	done := make(chan struct{})

	m.mu.Lock()
	m.status = Status{
		State:                   deviceflow.StateCodeRequested,
		UserCode:                code.UserCode,
		VerificationURI:         code.VerificationURI,
		VerificationURIComplete: code.VerificationURIComplete,
		ExpiresAt:               &expiresAt,
	}
	m.done = done
	m.mu.Unlock()

	m.logger.Info("login started",
		zap.String("user_code", code.UserCode),
		zap.String("verification_uri", code.VerificationURI))

	go m.run(code, done)
	return m.Status(), nil
}

// Status returns the current or most recent session status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Cancel abandons the active session. Cancellation is not an error and
// leaves no error code in the status.
func (m *Manager) Cancel() {
	m.client.Cancel()
}

// Wait blocks until the active session finishes or ctx is done, then
// returns the latest status
func (m *Manager) Wait(ctx context.Context) Status {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return m.Status()
}

func (m *Manager) run(code *deviceflow.DeviceCode, done chan struct{}) {
	defer close(done)

	m.setState(done, deviceflow.StatePolling)

	cred, err := m.client.PollForToken(context.Background(), code)
	if err != nil {
		m.finish(done, m.client.State(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultSaveTimeout)
	defer cancel()

	if err := m.sink.Save(ctx, cred); err != nil {
		m.finish(done, deviceflow.StateFailed, fmt.Errorf("saving credential: %w", err))
		return
	}
	m.finish(done, deviceflow.StateAuthorized, nil)

	if m.refresher != nil {
		st := m.refresher.ForceRefresh(ctx)
		m.logger.Debug("refreshed usage after login", zap.String("error", st.ErrorCode()))
	}
}

// setState and finish ignore sessions that a newer Start replaced; done
// identifies the session.
func (m *Manager) setState(done chan struct{}, s deviceflow.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == done && !m.status.State.Terminal() {
		m.status.State = s
	}
}

func (m *Manager) finish(done chan struct{}, s deviceflow.State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != done {
		m.logger.Debug("dropping result of a replaced session",
			zap.Stringer("state", s), zap.Error(err))
		return
	}

	m.status.State = s
	m.setErrorLocked(err)

	switch {
	case err == nil:
		m.logger.Info("login succeeded")
	case oauth.IsSilent(err):
		m.logger.Info("login cancelled")
	default:
		m.logger.Warn("login failed", zap.Stringer("state", s), zap.Error(err))
	}
}

// setErrorLocked records err unless it is a silent cancellation. m.mu must
// be held.
func (m *Manager) setErrorLocked(err error) {
	m.status.Error = ""
	m.status.ErrorDescription = ""
	if err == nil || oauth.IsSilent(err) {
		return
	}
	m.status.Error = oauth.Code(err)
	m.status.ErrorDescription = err.Error()
}
