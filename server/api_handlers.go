package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/oauth2"
	"github.com/rs/zerolog/log"
)

// maxJSONBody bounds API request bodies.
const maxJSONBody = 1 << 16

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// APITokenHandler exchanges credentials for a token pair (POST /auth/token)
func (s *Server) APITokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, oauth2.ErrorInvalidRequest, "malformed JSON body")
			return
		}

		id, err := s.creds.Verify(r.Context(), req.Email, req.Password)
		if err != nil {
			metrics.LoginAttempts.WithLabelValues(loginMethod(r), metrics.OutcomeFailure).Inc()
			if errors.Is(err, errors.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, oauth2.ErrorInvalidGrant, "invalid email or password")
				return
			}
			log.Error().Err(err).Msg("api login failed")
			writeError(w, http.StatusInternalServerError, oauth2.ErrorServerError, "login unavailable")
			return
		}

		pair, err := s.issuer.Issue(r.Context(), id)
		if err != nil {
			log.Error().Err(err).Str("user_id", id.ID).Msg("failed to issue token pair")
			writeError(w, http.StatusInternalServerError, oauth2.ErrorServerError, "failed to issue tokens")
			return
		}
		metrics.LoginAttempts.WithLabelValues(loginMethod(r), metrics.OutcomeSuccess).Inc()
		writeJSON(w, http.StatusOK, oauth2.NewTokenResponse(pair, s.issuer.Now()))
	}
}

// APIRefreshHandler rotates a refresh token (POST /auth/refresh)
func (s *Server) APIRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, oauth2.ErrorInvalidRequest, "malformed JSON body")
			return
		}

		pair, err := s.issuer.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			if errors.ForcesSignOut(err) {
				writeError(w, http.StatusUnauthorized, oauth2.ErrorInvalidGrant, "refresh token is invalid or expired")
				return
			}
			log.Error().Err(err).Msg("refresh failed")
			writeError(w, http.StatusInternalServerError, oauth2.ErrorServerError, "refresh unavailable")
			return
		}
		writeJSON(w, http.StatusOK, oauth2.NewTokenResponse(pair, s.issuer.Now()))
	}
}
