package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/session"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/token/keys"
	refreshrepofake "github.com/jrsteele09/storefront-auth/token/refresh/repofake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = identity.Identity{
	ID:          "user-1",
	DisplayName: "Jane Doe",
	Email:       "jane@example.com",
	Role:        identity.RoleUser,
	Provider:    identity.ProviderCredentials,
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingRefresher counts calls that reach the wrapped refresher.
type countingRefresher struct {
	calls atomic.Int32
	delay time.Duration
	next  session.Refresher
}

func (c *countingRefresher) Refresh(ctx context.Context, value string) (token.Pair, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.next.Refresh(ctx, value)
}

type refresherFunc func(ctx context.Context, value string) (token.Pair, error)

func (f refresherFunc) Refresh(ctx context.Context, value string) (token.Pair, error) {
	return f(ctx, value)
}

func newTestIssuer(t *testing.T, clock *testClock) *token.Issuer {
	t.Helper()
	signer, err := keys.NewHMACSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	issuer, err := token.NewIssuer(signer, refreshrepofake.NewFakeRefreshStore(),
		token.WithTokenExpiry(15*time.Minute, 24*time.Hour),
		token.WithNowFunc(clock.Now))
	require.NoError(t, err)
	return issuer
}

func startedSession(t *testing.T, clock *testClock, refresher session.Refresher, opts ...session.Option) (*session.Session, token.Pair) {
	t.Helper()
	pair, err := newTestIssuer(t, clock).Issue(context.Background(), testUser)
	require.NoError(t, err)

	options := append([]session.Option{session.WithNowFunc(clock.Now)}, opts...)
	s := session.New("client-1", refresher, options...)
	require.NoError(t, s.Start(testUser, pair))
	return s, pair
}

func TestSession_Start(t *testing.T) {
	clock := newTestClock()
	s := session.New("client-1", nil, session.WithNowFunc(clock.Now))
	require.Equal(t, session.StateUnauthenticated, s.Snapshot().State)

	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrUnauthenticated)

	pair, err := newTestIssuer(t, clock).Issue(context.Background(), testUser)
	require.NoError(t, err)
	require.Error(t, s.Start(testUser, token.Pair{}))
	require.NoError(t, s.Start(testUser, pair))

	snap := s.Snapshot()
	assert.Equal(t, session.StateActive, snap.State)
	assert.Equal(t, testUser, snap.Identity)
	assert.Equal(t, pair.Access.ExpiresAt, snap.AccessExpiresAt)
	assert.Equal(t, pair.Access.SessionID, snap.TokenFamily)
	assert.Equal(t, session.ErrorNone, snap.Error)
	assert.False(t, snap.ReloginRequired)

	require.Error(t, s.Start(testUser, pair))

	require.True(t, s.SignOut())
	require.Error(t, s.Start(testUser, pair))
}

func TestSession_AccessTokenFresh(t *testing.T) {
	clock := newTestClock()
	refresher := &countingRefresher{}
	s, pair := startedSession(t, clock, refresher)

	clock.Advance(10 * time.Minute)
	at, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pair.Access.Raw, at.Raw)
	assert.Zero(t, refresher.calls.Load())
}

func TestSession_RefreshWithinSkew(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	refresher := &countingRefresher{next: issuer}
	pair, err := issuer.Issue(context.Background(), testUser)
	require.NoError(t, err)
	s := session.New("client-1", refresher, session.WithNowFunc(clock.Now), session.WithRefreshSkew(5*time.Second))
	require.NoError(t, s.Start(testUser, pair))

	changed := s.Changed()
	clock.Advance(15*time.Minute - 4*time.Second)

	at, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access.Raw, at.Raw)
	assert.Equal(t, clock.Now().Add(15*time.Minute), at.ExpiresAt)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, session.StateActive, s.Snapshot().State)
	assert.NotEqual(t, pair.Refresh.Value, s.RefreshToken().Value)

	select {
	case <-changed:
	default:
		t.Fatal("Changed channel was not closed by the refresh")
	}
}

func TestSession_ConcurrentRefreshSingleFlight(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	refresher := &countingRefresher{next: issuer, delay: 50 * time.Millisecond}

	pair, err := issuer.Issue(context.Background(), testUser)
	require.NoError(t, err)
	s := session.New("client-1", refresher, session.WithNowFunc(clock.Now))
	require.NoError(t, s.Start(testUser, pair))

	// Both requests see a token 2 seconds from expiry.
	clock.Advance(15*time.Minute - 2*time.Second)

	const requests = 2
	var wg sync.WaitGroup
	tokens := make([]token.AccessToken, requests)
	errs := make([]error, requests)
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = s.AccessToken(context.Background())
		}()
	}
	wg.Wait()

	for i := range requests {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, tokens[0].Raw, tokens[1].Raw)
	assert.NotEqual(t, pair.Access.Raw, tokens[0].Raw)
}

func TestSession_RefreshFailureExpires(t *testing.T) {
	clock := newTestClock()
	failing := refresherFunc(func(context.Context, string) (token.Pair, error) {
		return token.Pair{}, errors.ErrRefreshInvalid
	})
	s, _ := startedSession(t, clock, failing)

	clock.Advance(15 * time.Minute)
	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrSessionExpired)
	require.True(t, errors.ForcesSignOut(err))

	snap := s.Snapshot()
	assert.Equal(t, session.StateExpired, snap.State)
	assert.Equal(t, session.ErrorSessionExpired, snap.Error)
	assert.True(t, snap.ReloginRequired)

	// Expired is sticky.
	_, err = s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrSessionExpired)
}

func TestSession_RefreshTimeoutFailsClosed(t *testing.T) {
	clock := newTestClock()
	release := make(chan struct{})
	defer close(release)
	hanging := refresherFunc(func(context.Context, string) (token.Pair, error) {
		<-release
		return token.Pair{}, nil
	})
	s, _ := startedSession(t, clock, hanging, session.WithRefreshTimeout(20*time.Millisecond))

	clock.Advance(15 * time.Minute)
	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrSessionExpired)
	require.Equal(t, session.StateExpired, s.Snapshot().State)
}

func TestSession_CallerCancelDoesNotCancelRefresh(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)
	refresher := &countingRefresher{next: issuer, delay: 100 * time.Millisecond}
	pair, err := issuer.Issue(context.Background(), testUser)
	require.NoError(t, err)
	s := session.New("client-1", refresher, session.WithNowFunc(clock.Now))
	require.NoError(t, s.Start(testUser, pair))

	clock.Advance(15 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.AccessToken(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared refresh carried on and a later caller gets its result.
	at, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access.Raw, at.Raw)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, session.StateActive, s.Snapshot().State)
}

func TestSession_NoRefreshToken(t *testing.T) {
	clock := newTestClock()
	refresher := &countingRefresher{}
	pair, err := newTestIssuer(t, clock).Issue(context.Background(), testUser)
	require.NoError(t, err)
	pair.Refresh = token.RefreshToken{}

	s := session.New("client-1", refresher, session.WithNowFunc(clock.Now))
	require.NoError(t, s.Start(testUser, pair))

	// Inside the skew but not yet expired: the current token is still served.
	clock.Advance(15*time.Minute - 2*time.Second)
	at, err := s.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pair.Access.Raw, at.Raw)

	clock.Advance(2 * time.Second)
	_, err = s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrSessionExpired)
	assert.Equal(t, session.StateExpired, s.Snapshot().State)
	assert.Zero(t, refresher.calls.Load())
}

func TestSession_ExpireDuringRefresh(t *testing.T) {
	clock := newTestClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	issuer := newTestIssuer(t, clock)
	slow := refresherFunc(func(ctx context.Context, value string) (token.Pair, error) {
		close(entered)
		<-release
		return issuer.Refresh(ctx, value)
	})
	pair, err := issuer.Issue(context.Background(), testUser)
	require.NoError(t, err)
	s := session.New("client-1", slow, session.WithNowFunc(clock.Now))
	require.NoError(t, s.Start(testUser, pair))

	clock.Advance(15 * time.Minute)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.AccessToken(context.Background())
		errCh <- err
	}()

	<-entered
	require.True(t, s.Snapshot().Refreshing)
	require.True(t, s.Expire())
	close(release)

	require.ErrorIs(t, <-errCh, errors.ErrSessionExpired)
	assert.Equal(t, session.StateExpired, s.Snapshot().State)
}

func TestSession_ExpireUpstream(t *testing.T) {
	clock := newTestClock()
	s, _ := startedSession(t, clock, &countingRefresher{})

	require.True(t, s.Expire())
	require.False(t, s.Expire())

	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	unstarted := session.New("client-2", nil)
	require.False(t, unstarted.Expire())
}

func TestSession_SignOutIdempotent(t *testing.T) {
	clock := newTestClock()
	s, _ := startedSession(t, clock, &countingRefresher{})
	require.True(t, s.Expire())

	changed := s.Changed()
	require.True(t, s.SignOut())
	first := s.Snapshot()
	<-changed

	require.False(t, s.SignOut())
	second := s.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, session.StateUnauthenticated, second.State)
	assert.True(t, second.SignedOut)
	assert.Equal(t, identity.Identity{}, second.Identity)
	assert.False(t, second.ReloginRequired)

	_, err := s.AccessToken(context.Background())
	require.ErrorIs(t, err, errors.ErrUnauthenticated)
}
