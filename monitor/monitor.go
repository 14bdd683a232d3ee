package monitor

import (
	"context"
	"time"

	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/session"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 5 * time.Minute

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSignedOut
)

func (o Outcome) String() string {
	if o == OutcomeSignedOut {
		return "signed_out"
	}
	return "none"
}

// Notice is delivered once when the monitor forces a client out.
type Notice struct {
	ClientID string
	UserID   string
	Reason   session.Notice
	At       time.Time
}

// RevocationChecker reports whether a token family was revoked upstream.
// *token.Issuer satisfies it.
type RevocationChecker interface {
	SessionRevoked(ctx context.Context, tokenFamily string) (bool, error)
}

// Monitor watches one client's session and signs it out once it can no
// longer be used.
type Monitor struct {
	session     *session.Session
	interval    time.Duration
	revocations RevocationChecker
	onSignOut   func(Notice)
	focus       chan struct{}
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

func WithRevocationChecker(rc RevocationChecker) Option {
	return func(m *Monitor) {
		m.revocations = rc
	}
}

// WithSignOutHandler is called exactly once, after a forced sign-out.
func WithSignOutHandler(fn func(Notice)) Option {
	return func(m *Monitor) {
		m.onSignOut = fn
	}
}

func New(s *session.Session, options ...Option) *Monitor {
	m := &Monitor{
		session:  s,
		interval: DefaultInterval,
		focus:    make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	return m
}

// Focus requests an immediate check, as when the client regains focus.
func (m *Monitor) Focus() {
	select {
	case m.focus <- struct{}{}:
	default:
	}
}

// Check runs a single pass.
func (m *Monitor) Check(ctx context.Context) Outcome {
	snap := m.session.Snapshot()
	if snap.SignedOut || snap.State == session.StateUnauthenticated {
		return OutcomeNone
	}

	if m.revocations != nil && snap.State != session.StateExpired && snap.TokenFamily != "" {
		revoked, err := m.revocations.SessionRevoked(ctx, snap.TokenFamily)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("session_id", snap.ID).Msg("revocation check failed")
		case revoked:
			log.Info().Str("session_id", snap.ID).Str("user_id", snap.Identity.ID).Msg("token family revoked, expiring session")
			m.session.Expire()
			snap = m.session.Snapshot()
		}
	}

	if snap.Error == session.ErrorSessionExpired {
		return m.signOut(snap, session.NoticeSessionExpired)
	}
	if snap.Refreshing || !m.session.Now().After(snap.AccessExpiresAt) {
		return OutcomeNone
	}
	if !m.session.Now().Before(snap.RefreshExpiresAt) {
		return m.signOut(snap, session.NoticeSessionExpired)
	}

	// The refresh token still works: an idle client is kept signed in.
	if _, err := m.session.AccessToken(ctx); err != nil {
		snap = m.session.Snapshot()
		if snap.Error == session.ErrorSessionExpired {
			return m.signOut(snap, session.NoticeSessionExpired)
		}
		log.Warn().Err(err).Str("session_id", snap.ID).Msg("background refresh interrupted")
	}
	return OutcomeNone
}

// Run checks on every tick, focus event and session change until ctx ends
// or the session is signed out.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if m.Check(ctx) == OutcomeSignedOut {
		return
	}
	for {
		changed := m.session.Changed()
		if m.session.Snapshot().SignedOut {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.focus:
		case <-changed:
		}

		if m.Check(ctx) == OutcomeSignedOut {
			return
		}
	}
}

func (m *Monitor) signOut(snap session.Snapshot, reason session.Notice) Outcome {
	if !m.session.SignOut() {
		return OutcomeNone
	}

	metrics.ForcedSignOuts.WithLabelValues(string(reason)).Inc()
	log.Info().Str("session_id", snap.ID).Str("user_id", snap.Identity.ID).Str("notice", string(reason)).Msg("session signed out")

	if m.onSignOut != nil {
		m.onSignOut(Notice{
			ClientID: snap.ID,
			UserID:   snap.Identity.ID,
			Reason:   reason,
			At:       m.session.Now(),
		})
	}
	return OutcomeSignedOut
}
