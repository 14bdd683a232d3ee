package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshSkew    = 5 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

type State int

const (
	StateUnauthenticated State = iota
	StateActive
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrorKind is the session-level error flag read by the monitor.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorSessionExpired
)

func (k ErrorKind) String() string {
	if k == ErrorSessionExpired {
		return "SessionExpired"
	}
	return ""
}

// Refresher exchanges a refresh token value for a new pair. *token.Issuer
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshValue string) (token.Pair, error)
}

// Snapshot is a consistent, read-only view of a session.
type Snapshot struct {
	ID               string
	State            State
	Identity         identity.Identity
	TokenFamily      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Error            ErrorKind
	Refreshing       bool
	SignedOut        bool
	ReloginRequired  bool
}

// Session holds one client's identity and token pair. All methods are safe
// for concurrent use.
type Session struct {
	id             string
	refresher      Refresher
	skew           time.Duration
	refreshTimeout time.Duration
	nowFunc        func() time.Time

	mu        sync.RWMutex
	state     State
	identity  identity.Identity
	pair      token.Pair
	errKind   ErrorKind
	signedOut bool
	changed   chan struct{}

	refreshes singleflight.Group
}

type Option func(*Session)

// WithRefreshSkew makes the session refresh this long before the access
// token actually expires.
func WithRefreshSkew(d time.Duration) Option {
	return func(s *Session) {
		s.skew = d
	}
}

// WithRefreshTimeout bounds a refresh. A refresh that outlives it expires the session.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.refreshTimeout = d
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Session) {
		s.nowFunc = now
	}
}

func New(id string, refresher Refresher, options ...Option) *Session {
	s := &Session{
		id:             id,
		refresher:      refresher,
		skew:           DefaultRefreshSkew,
		refreshTimeout: DefaultRefreshTimeout,
		nowFunc:        time.Now,
		changed:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Now is the clock used for every expiry decision about this session.
func (s *Session) Now() time.Time {
	return s.nowFunc()
}

// Start moves a fresh session from Unauthenticated to Active.
func (s *Session) Start(id identity.Identity, pair token.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signedOut {
		return fmt.Errorf("session %s is signed out", s.id)
	}
	if s.state != StateUnauthenticated {
		return fmt.Errorf("session %s already started (%s)", s.id, s.state)
	}
	if pair.Access.Raw == "" {
		return fmt.Errorf("session %s: access token required", s.id)
	}

	s.identity = id
	s.pair = pair
	s.errKind = ErrorNone
	s.setStateLocked(StateActive)
	return nil
}

// AccessToken returns a usable access token, refreshing first when the
// current one is within the skew of expiry. Concurrent callers share a single
// refresh. Once the session is Expired every call returns ErrSessionExpired.
func (s *Session) AccessToken(ctx context.Context) (token.AccessToken, error) {
	s.mu.RLock()
	state := s.state
	access := s.pair.Access
	s.mu.RUnlock()

	switch state {
	case StateUnauthenticated:
		return token.AccessToken{}, errors.ErrUnauthenticated
	case StateExpired:
		return token.AccessToken{}, errors.ErrSessionExpired
	case StateActive:
		if s.nowFunc().Before(access.ExpiresAt.Add(-s.skew)) {
			return access, nil
		}
	}
	return s.refresh(ctx)
}

// Expire marks the session Expired from outside, for example after an
// admin revocation. It reports whether the state changed.
func (s *Session) Expire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUnauthenticated || s.state == StateExpired {
		return false
	}
	s.expireLocked()
	return true
}

// SignOut clears the session. It is terminal and idempotent; only the call
// that actually signed out returns true.
func (s *Session) SignOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signedOut {
		return false
	}
	s.signedOut = true
	s.identity = identity.Identity{}
	s.pair = token.Pair{}
	s.errKind = ErrorNone
	s.setStateLocked(StateUnauthenticated)
	return true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ID:               s.id,
		State:            s.state,
		Identity:         s.identity,
		TokenFamily:      s.pair.Access.SessionID,
		AccessExpiresAt:  s.pair.Access.ExpiresAt,
		RefreshExpiresAt: s.pair.Refresh.ExpiresAt,
		Error:            s.errKind,
		Refreshing:       s.state == StateRefreshing,
		SignedOut:        s.signedOut,
		ReloginRequired:  s.errKind == ErrorSessionExpired,
	}
}

// Changed returns a channel that is closed on the next state change.
func (s *Session) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// RefreshToken returns the refresh credential currently held, for API clients
// that manage rotation themselves.
func (s *Session) RefreshToken() token.RefreshToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh
}

func (s *Session) refresh(ctx context.Context) (token.AccessToken, error) {
	// The shared refresh must not die with the first caller's request.
	shared := context.WithoutCancel(ctx)
	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		return s.doRefresh(shared)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return token.AccessToken{}, res.Err
		}
		return res.Val.(token.AccessToken), nil
	case <-ctx.Done():
		return token.AccessToken{}, ctx.Err()
	}
}

type refreshResult struct {
	pair token.Pair
	err  error
}

func (s *Session) doRefresh(ctx context.Context) (token.AccessToken, error) {
	s.mu.Lock()
	switch s.state {
	case StateUnauthenticated:
		s.mu.Unlock()
		return token.AccessToken{}, errors.ErrUnauthenticated
	case StateExpired:
		s.mu.Unlock()
		return token.AccessToken{}, errors.ErrSessionExpired
	}

	now := s.nowFunc()
	if now.Before(s.pair.Access.ExpiresAt.Add(-s.skew)) {
		access := s.pair.Access
		s.mu.Unlock()
		return access, nil
	}

	refreshValue := s.pair.Refresh.Value
	if refreshValue == "" || !now.Before(s.pair.Refresh.ExpiresAt) {
		if now.Before(s.pair.Access.ExpiresAt) {
			access := s.pair.Access
			s.mu.Unlock()
			return access, nil
		}
		s.expireLocked()
		s.mu.Unlock()
		return token.AccessToken{}, errors.Wrapf(errors.ErrSessionExpired, "no usable refresh token")
	}

	s.setStateLocked(StateRefreshing)
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	done := make(chan refreshResult, 1)
	go func() {
		pair, err := s.refresher.Refresh(rctx, refreshValue)
		done <- refreshResult{pair: pair, err: err}
	}()

	var res refreshResult
	select {
	case res = <-done:
	case <-rctx.Done():
		res.err = errors.Wrapf(errors.ErrRefreshInvalid, "refresh timed out after %s", s.refreshTimeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// SignOut or Expire may have run while the refresh was in flight.
	if s.signedOut {
		return token.AccessToken{}, errors.ErrUnauthenticated
	}
	if s.state != StateRefreshing {
		return token.AccessToken{}, errors.ErrSessionExpired
	}

	if res.err != nil {
		log.Info().Err(res.err).Str("session_id", s.id).Str("user_id", s.identity.ID).Msg("refresh failed, session expired")
		s.expireLocked()
		return token.AccessToken{}, errors.Wrapf(errors.ErrSessionExpired, "%s", res.err.Error())
	}

	s.pair = res.pair
	s.errKind = ErrorNone
	s.setStateLocked(StateActive)
	return s.pair.Access, nil
}

func (s *Session) expireLocked() {
	s.errKind = ErrorSessionExpired
	s.setStateLocked(StateExpired)
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
}
