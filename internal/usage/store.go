package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wrale/oauth2-usage-monitor/internal/metrics"
	"github.com/wrale/oauth2-usage-monitor/internal/oauth"
	"github.com/wrale/oauth2-usage-monitor/internal/poll"
)

const (
	// DefaultFetchTimeout bounds a refresh so a stalled connection cannot
	// keep the store in flight
	DefaultFetchTimeout = 15 * time.Second

	// DefaultRateLimitBackoff applies when the provider rate limits without
	// a retry hint
	DefaultRateLimitBackoff = time.Minute

	refreshKey = "refresh"
)

// CredentialSource supplies the credential at refresh time
type CredentialSource interface {
	Credential(ctx context.Context) (oauth.Credential, error)
}

// Cache persists the last good snapshot across restarts
type Cache interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Option configures the store
type Option func(*Store)

// WithClock sets the store clock
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithFetchTimeout bounds each fetch
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.fetchTimeout = d
	}
}

// WithCache persists successful snapshots
func WithCache(c Cache) Option {
	return func(s *Store) {
		s.cache = c
	}
}

// Store holds the latest snapshot and serializes refreshes. Concurrent
// Refresh calls share one fetch. Each fetch is stamped with a sequence
// number and only the latest-started fetch may write state.
type Store struct {
	fetcher      Fetcher
	creds        CredentialSource
	cache        Cache
	clock        clockwork.Clock
	logger       *zap.Logger
	fetchTimeout time.Duration

	group singleflight.Group

	mu          sync.Mutex
	state       State
	seq         uint64
	retryAt     time.Time
	subscribers map[int]chan State
	nextID      int

	saveMu   sync.Mutex
	savedSeq uint64
}

// NewStore creates a store fetching with fetcher and credentials from creds
func NewStore(fetcher Fetcher, creds CredentialSource, opts ...Option) *Store {
	s := &Store{
		fetcher:      fetcher,
		creds:        creds,
		clock:        clockwork.NewRealClock(),
		logger:       zap.NewNop(),
		fetchTimeout: DefaultFetchTimeout,
		subscribers:  make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Refresh fetches a new snapshot, or joins the fetch already in flight.
// Failures are recorded in the returned state, never returned. If ctx ends
// first the fetch keeps running and the current state is returned.
func (s *Store) Refresh(ctx context.Context) State {
	return s.wait(ctx, s.group.DoChan(refreshKey, s.fetch))
}

// ForceRefresh starts a new fetch even if one is in flight. The older
// fetch's result is discarded when it lands.
func (s *Store) ForceRefresh(ctx context.Context) State {
	s.group.Forget(refreshKey)
	return s.wait(ctx, s.group.DoChan(refreshKey, s.fetch))
}

func (s *Store) wait(ctx context.Context, ch <-chan singleflight.Result) State {
	select {
	case res := <-ch:
		if st, ok := res.Val.(State); ok {
			return st
		}
	case <-ctx.Done():
	}
	return s.State()
}

// Run refreshes immediately and then every interval until ctx is done
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	sched := poll.New(interval, poll.WithClock(s.clock), poll.WithLogger(s.logger))

	_, err := poll.Run(ctx, sched, func(ctx context.Context) poll.Outcome[struct{}] {
		s.Refresh(ctx)
		return poll.Pending[struct{}]()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Load primes the store from the cache. A snapshot already fetched wins.
func (s *Store) Load(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	snap, err := s.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading cached snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Snapshot == nil {
		s.state.Snapshot = snap
		s.state.UpdatedAt = s.clock.Now()
		s.publishLocked()
		s.logger.Info("loaded cached snapshot", zap.Time("captured_at", snap.CapturedAt))
	}
	return nil
}

// Subscribe returns a channel that always holds the latest state. The
// current state is delivered immediately. Slow readers miss intermediate
// states, never the latest one.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	ch <- s.state
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// publishLocked replaces any unread state with the current one. s.mu must
// be held, which makes this the only sender.
func (s *Store) publishLocked() {
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}

// fetch runs inside the singleflight group, detached from any caller. The
// credential is read first: a missing credential is reported even inside a
// rate limit window, which only suppresses network calls.
func (s *Store) fetch() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()

	cred, credErr := s.credential(ctx)

	s.mu.Lock()
	if credErr != nil {
		if errors.Is(credErr, oauth.ErrUnauthenticated) {
			// The window belonged to the signed out credential
			s.retryAt = time.Time{}
		}
		s.seq++
		s.applyLocked(nil, credErr)
		st := s.state
		s.mu.Unlock()
		return st, nil
	}
	if wait := s.retryAt.Sub(s.clock.Now()); wait > 0 {
		st := s.state
		s.mu.Unlock()
		s.logger.Debug("skipping refresh while rate limited", zap.Duration("retry_in", wait))
		return st, nil
	}
	s.seq++
	seq := s.seq
	s.state.InFlight = true
	s.publishLocked()
	s.mu.Unlock()

	snap, err := s.fetcher.Fetch(ctx, cred)

	s.mu.Lock()
	if seq != s.seq {
		st := s.state
		s.mu.Unlock()
		s.logger.Debug("discarding superseded fetch", zap.Uint64("seq", seq))
		return st, nil
	}
	s.applyLocked(snap, err)
	st := s.state
	s.mu.Unlock()

	if err == nil && s.cache != nil {
		s.save(ctx, seq, snap)
	}
	return st, nil
}

// save writes snap to the cache unless a newer fetch already did. Saves are
// serialized so an older snapshot never lands after a newer one.
func (s *Store) save(ctx context.Context, seq uint64, snap *Snapshot) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if seq <= s.savedSeq {
		return
	}
	if err := s.cache.Save(ctx, snap); err != nil {
		s.logger.Warn("caching snapshot failed", zap.Error(err))
		return
	}
	s.savedSeq = seq
}

func (s *Store) credential(ctx context.Context) (oauth.Credential, error) {
	cred, err := s.creds.Credential(ctx)
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	if cred.IsEmpty() {
		return "", fmt.Errorf("refreshing usage: %w", oauth.ErrUnauthenticated)
	}
	return cred, nil
}

// applyLocked records a fetch result. s.mu must be held.
func (s *Store) applyLocked(snap *Snapshot, err error) {
	now := s.clock.Now()
	s.state.InFlight = false
	s.state.UpdatedAt = now

	if err != nil {
		// Keep the previous snapshot; stale data beats no data
		s.state.LastError = err
		if errors.Is(err, oauth.ErrRateLimited) {
			backoff, _ := oauth.RetryAfter(err)
			if backoff <= 0 {
				backoff = DefaultRateLimitBackoff
			}
			s.retryAt = now.Add(backoff)
		}
		metrics.UsageFetchTotal.WithLabelValues(oauth.Code(err)).Inc()
		s.logger.Warn("usage refresh failed",
			zap.String("code", oauth.Code(err)),
			zap.Error(err))
	} else {
		s.state.Snapshot = snap
		s.state.LastError = nil
		s.retryAt = time.Time{}
		metrics.UsageFetchTotal.WithLabelValues("ok").Inc()
		for _, q := range snap.Quotas {
			metrics.QuotaRemaining.WithLabelValues(q.Name).Set(q.PercentRemaining)
		}
		s.logger.Debug("usage refreshed", zap.Int("quotas", len(snap.Quotas)))
	}

	if s.state.Stale() {
		metrics.SnapshotStale.Set(1)
	} else {
		metrics.SnapshotStale.Set(0)
	}
	s.publishLocked()
}
