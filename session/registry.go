package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/rs/zerolog/log"
)

// Notice tells a signed-out client why it has to log in again.
type Notice string

const (
	NoticeNone           Notice = ""
	NoticeSessionExpired Notice = "session_expired"
	NoticeLoginRequired  Notice = "login_required"
)

// tombstoneTTL is how long a forced sign-out notice stays readable after the
// session itself is gone.
const tombstoneTTL = time.Hour

// entry keeps the owner of a session, which SignOut clears from the session itself.
type entry struct {
	session *Session
	userID  string
}

type tombstone struct {
	notice Notice
	at     time.Time
}

// Registry owns the sessions of every client context, keyed by an opaque
// client id (the session cookie). There is at most one session per id.
type Registry struct {
	refresher Refresher
	options   []Option
	nowFunc   func() time.Time

	mu         sync.Mutex
	sessions   map[string]entry
	byUser     map[string]map[string]struct{}
	tombstones map[string]tombstone
}

func NewRegistry(refresher Refresher, options ...Option) *Registry {
	// Sessions and registry share one clock.
	defaults := New("", nil, options...)
	return &Registry{
		refresher:  refresher,
		options:    options,
		nowFunc:    defaults.nowFunc,
		sessions:   make(map[string]entry),
		byUser:     make(map[string]map[string]struct{}),
		tombstones: make(map[string]tombstone),
	}
}

// Create starts a session for a fresh login under a new client id. A session
// still held under previousID is signed out and replaced.
func (r *Registry) Create(previousID string, id identity.Identity, pair token.Pair) (*Session, error) {
	s := New(uuid.New().String(), r.refresher, r.options...)
	if err := s.Start(id, pair); err != nil {
		return nil, fmt.Errorf("[Registry.Create] %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if previousID != "" {
		r.removeLocked(previousID, NoticeNone)
	}
	r.sessions[s.id] = entry{session: s, userID: id.ID}
	if _, ok := r.byUser[id.ID]; !ok {
		r.byUser[id.ID] = make(map[string]struct{})
	}
	r.byUser[id.ID][s.id] = struct{}{}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))

	log.Debug().Str("session_id", s.id).Str("user_id", id.ID).Msg("session created")
	return s, nil
}

func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[clientID]
	return e.session, ok
}

// Remove signs the session out and forgets it. A non-empty notice is kept so
// the client can still be told why it was signed out. Remove reports whether
// a session was removed.
func (r *Registry) Remove(clientID string, notice Notice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(clientID, notice)
}

// TakeNotice returns and clears the sign-out notice left for clientID.
func (r *Registry) TakeNotice(clientID string) (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tombstones[clientID]
	if !ok {
		return NoticeNone, false
	}
	delete(r.tombstones, clientID)
	if r.nowFunc().Sub(t.at) > tombstoneTTL {
		return NoticeNone, false
	}
	return t.notice, true
}

// ExpireUser marks every session of userID Expired and returns how many changed.
func (r *Registry) ExpireUser(userID string) int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byUser[userID]))
	for clientID := range r.byUser[userID] {
		if e, ok := r.sessions[clientID]; ok {
			sessions = append(sessions, e.session)
		}
	}
	r.mu.Unlock()

	expired := 0
	for _, s := range sessions {
		if s.Expire() {
			expired++
		}
	}
	return expired
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) removeLocked(clientID string, notice Notice) bool {
	e, ok := r.sessions[clientID]
	if !ok {
		return false
	}
	e.session.SignOut()

	delete(r.sessions, clientID)
	if ids, ok := r.byUser[e.userID]; ok {
		delete(ids, clientID)
		if len(ids) == 0 {
			delete(r.byUser, e.userID)
		}
	}
	if notice != NoticeNone {
		r.pruneTombstonesLocked()
		r.tombstones[clientID] = tombstone{notice: notice, at: r.nowFunc()}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return true
}

func (r *Registry) pruneTombstonesLocked() {
	now := r.nowFunc()
	for id, t := range r.tombstones {
		if now.Sub(t.at) > tombstoneTTL {
			delete(r.tombstones, id)
		}
	}
}
