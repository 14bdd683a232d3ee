package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/storefront-auth/gate"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/monitor"
	"github.com/jrsteele09/storefront-auth/oauth2"
	"github.com/jrsteele09/storefront-auth/session"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyClientID stores the session cookie's client id
const ContextKeyClientID ContextKey = "client_id"

func withClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ContextKeyClientID, clientID)
}

// ClientIDFrom returns the client id of the cookie session behind ctx.
func ClientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyClientID).(string)
	return id
}

// SessionMiddleware resolves the session cookie into a usable access token
// for the gate. A session that can no longer produce one is signed out here
// and the client is sent back to the login page.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := sessionCookie(r)
		if clientID == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := withClientID(r.Context(), clientID)

		sess, ok := s.sessions.Get(clientID)
		if !ok {
			s.serveSignedOut(w, r.WithContext(ctx), next)
			return
		}

		access, err := sess.AccessToken(r.Context())
		switch {
		case err == nil:
			ctx = gate.WithAccessToken(ctx, access.Raw)
			next.ServeHTTP(w, r.WithContext(ctx))

		case errors.ForcesSignOut(err), errors.Is(err, errors.ErrUnauthenticated):
			// ErrUnauthenticated here means the monitor signed the session out
			// and has not removed it yet; forceSignOut is safe to repeat.
			snap := sess.Snapshot()
			log.Info().Err(err).Str("session_id", clientID).Str("user_id", snap.Identity.ID).Msg("session can no longer be used")
			s.forceSignOut(monitor.Notice{
				ClientID: clientID,
				UserID:   snap.Identity.ID,
				Reason:   session.NoticeSessionExpired,
				At:       sess.Now(),
			})
			s.serveSignedOut(w, r.WithContext(ctx), next)

		case r.Context().Err() != nil:
			// Client went away while a shared refresh was running.

		default:
			log.Error().Err(err).Str("session_id", clientID).Msg("failed to resolve session access token")
			writeError(w, http.StatusInternalServerError, oauth2.ErrorServerError, "session unavailable")
		}
	})
}

// serveSignedOut handles a request whose cookie names a session that is gone.
// A pending sign-out notice is delivered once; otherwise the request carries
// on anonymously.
func (s *Server) serveSignedOut(w http.ResponseWriter, r *http.Request, next http.Handler) {
	// The client-facing signal endpoints report the notice themselves.
	if isSignalPath(r) {
		next.ServeHTTP(w, r)
		return
	}

	clientID := ClientIDFrom(r.Context())
	s.ClearSessionCookie(w, r)
	r = r.WithContext(withClientID(r.Context(), ""))

	notice, found := s.sessions.TakeNotice(clientID)
	switch {
	case !found:
		next.ServeHTTP(w, r)
	case r.URL.Path == RouteLogin:
		q := r.URL.Query()
		if q.Get("notice") == "" {
			q.Set("notice", string(notice))
			r.URL.RawQuery = q.Encode()
		}
		next.ServeHTTP(w, r)
	default:
		s.sessionEnded(w, r, notice)
	}
}

// sessionEnded tells the client its session is gone: API clients get a 401,
// pages are sent to the login page with the notice.
func (s *Server) sessionEnded(w http.ResponseWriter, r *http.Request, notice session.Notice) {
	if wantsJSON(r) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, oauth2.ErrorCode(notice), "sign in again")
		return
	}
	redirectSuccess(w, r, gate.LoginURL(RouteLogin, string(notice), r.URL.RequestURI()))
}

func isSignalPath(r *http.Request) bool {
	return r.URL.Path == RouteSessionStatus || r.URL.Path == RouteSessionEvents
}

// forceSignOut removes a session the client did not sign out of and
// notifies anyone listening on its event stream. Only the first call leaves
// a notice behind; repeats are harmless.
func (s *Server) forceSignOut(notice monitor.Notice) {
	s.sessions.Remove(notice.ClientID, notice.Reason)
	s.clients.publish(notice)
	s.clients.stop(notice.ClientID)
}
