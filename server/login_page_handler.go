package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/storefront-auth/gate"
	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/monitor"
	"github.com/jrsteele09/storefront-auth/session"
	"github.com/rs/zerolog/log"
)

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	Identity        *identity.Identity
	Notice          string
	NoticeMessage   string
	Error           string
	Email           string // Preserve email on error
	Next            string
	ExternalEnabled bool
}

var noticeMessages = map[session.Notice]string{
	session.NoticeSessionExpired: "Your session has expired. Please sign in again.",
	session.NoticeLoginRequired:  "Please sign in to continue.",
}

// LoginPageUIHandler displays the login page (GET /login)
func (s *Server) LoginPageUIHandler() http.HandlerFunc {
	loginTmpl := mustParseTemplate("login.html")

	return func(w http.ResponseWriter, r *http.Request) {
		next := safeNext(r.URL.Query().Get("next"))
		if _, ok := gate.IdentityFrom(r.Context()); ok {
			redirectSuccess(w, r, next)
			return
		}

		notice := session.Notice(r.URL.Query().Get("notice"))
		data := LoginPageData{
			Notice:          string(notice),
			NoticeMessage:   noticeMessages[notice],
			Error:           r.URL.Query().Get("error"),
			Email:           r.URL.Query().Get("email"),
			Next:            next,
			ExternalEnabled: s.creds.ExternalEnabled(),
		}
		renderTemplate(w, loginTmpl, http.StatusOK, data)
	}
}

// LoginSubmissionHandler processes the login form submission
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		email := strings.TrimSpace(r.PostFormValue("email"))

		id, err := s.creds.Verify(r.Context(), email, r.PostFormValue("password"))
		if err != nil {
			s.loginFailed(w, r, err, "Invalid email or password.")
			return
		}
		s.startBrowserSession(w, r, id)
	}
}

// ExternalLoginHandler signs in with an ID token from the external provider
func (s *Server) ExternalLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}

		id, err := s.creds.VerifyExternalAssertion(r.Context(), r.PostFormValue("id_token"))
		if err != nil {
			s.loginFailed(w, r, err, "We could not verify your sign-in with the provider.")
			return
		}
		s.startBrowserSession(w, r, id)
	}
}

func (s *Server) loginFailed(w http.ResponseWriter, r *http.Request, err error, message string) {
	metrics.LoginAttempts.WithLabelValues(loginMethod(r), metrics.OutcomeFailure).Inc()
	if !errors.Is(err, errors.ErrInvalidCredentials) && !errors.Is(err, errors.ErrInvalidAssertion) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("login failed")
		message = "Sign-in is unavailable right now, please try again."
	}
	redirectWithError(w, r, RouteLogin, message)
}

// startBrowserSession issues a token pair for id, replaces any session the
// browser already holds and starts the session's monitor.
func (s *Server) startBrowserSession(w http.ResponseWriter, r *http.Request, id identity.Identity) {
	pair, err := s.issuer.Issue(r.Context(), id)
	if err != nil {
		s.loginFailed(w, r, err, "")
		return
	}

	previousID := sessionCookie(r)
	sess, err := s.sessions.Create(previousID, id, pair)
	if err != nil {
		s.loginFailed(w, r, err, "")
		return
	}
	if previousID != "" {
		s.clients.stop(previousID)
	}
	s.startMonitor(sess)

	metrics.LoginAttempts.WithLabelValues(loginMethod(r), metrics.OutcomeSuccess).Inc()
	log.Info().Str("session_id", sess.ID()).Str("user_id", id.ID).Str("provider", id.Provider.String()).Msg("user signed in")

	s.SetSessionCookie(w, r, sess.ID(), int(s.config.GetRefreshTokenTTL().Seconds()))
	redirectSuccess(w, r, safeNext(r.PostFormValue("next")))
}

func (s *Server) startMonitor(sess *session.Session) {
	s.clients.start(s.ctx, sess,
		monitor.WithInterval(s.config.GetMonitorInterval()),
		monitor.WithRevocationChecker(s.issuer),
	)
}

// LogoutHandler ends the browser session voluntarily
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if clientID := sessionCookie(r); clientID != "" {
			s.endSession(r.Context(), clientID)
		}
		s.ClearSessionCookie(w, r)
		redirectSuccess(w, r, RouteHome)
	}
}

// endSession signs out clientID and revokes its refresh token family.
func (s *Server) endSession(ctx context.Context, clientID string) {
	sess, ok := s.sessions.Get(clientID)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	s.clients.stop(clientID)
	if !s.sessions.Remove(clientID, session.NoticeNone) {
		return
	}
	if snap.TokenFamily != "" {
		if err := s.issuer.RevokeSession(ctx, snap.TokenFamily); err != nil {
			log.Warn().Err(err).Str("session_id", clientID).Msg("failed to revoke refresh tokens on logout")
		}
	}
	log.Info().Str("session_id", clientID).Str("user_id", snap.Identity.ID).Msg("user signed out")
}

func loginMethod(r *http.Request) string {
	switch r.URL.Path {
	case RouteAuthExternal:
		return "external"
	case RouteAuthToken:
		return "api"
	}
	return "password"
}
