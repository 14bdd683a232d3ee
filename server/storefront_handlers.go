package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/storefront-auth/gate"
	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/internal/utils"
	"github.com/jrsteele09/storefront-auth/oauth2"
	"github.com/rs/zerolog/log"
)

// PageData contains data for rendering a storefront page
type PageData struct {
	Title    string
	Identity *identity.Identity
}

func (s *Server) IndexHandler() http.HandlerFunc {
	return s.IdentityPageHandler("Storefront")
}

// IdentityPageHandler renders a page showing who the caller is. Bearer and
// JSON callers get the identity as JSON.
func (s *Server) IdentityPageHandler(title string) http.HandlerFunc {
	pageTmpl := mustParseTemplate("page.html")
	title = strings.ToUpper(title[:1]) + title[1:]

	return func(w http.ResponseWriter, r *http.Request) {
		var who *identity.Identity
		if id, ok := gate.IdentityFrom(r.Context()); ok {
			who = utils.Ptr(id)
		}

		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, map[string]any{"page": title, "identity": who})
			return
		}
		renderTemplate(w, pageTmpl, http.StatusOK, PageData{Title: title, Identity: who})
	}
}

// RevokeResponse reports an admin-forced revocation.
type RevokeResponse struct {
	UserID          string `json:"user_id"`
	SessionsExpired int    `json:"sessions_expired"`
}

// AdminRevokeUserHandler revokes every refresh token of a user and expires
// the user's live sessions; their monitors then sign them out.
func (s *Server) AdminRevokeUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, oauth2.ErrorInvalidRequest, "user id required")
			return
		}

		if _, err := s.creds.Lookup(r.Context(), userID); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				writeError(w, http.StatusNotFound, oauth2.ErrorNotFound, "no such user")
				return
			}
			log.Error().Err(err).Str("user_id", userID).Msg("failed to look up user")
			writeError(w, http.StatusInternalServerError, oauth2.ErrorServerError, "failed to look up user")
			return
		}

		if err := s.issuer.RevokeUser(r.Context(), userID); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("failed to revoke user tokens")
			writeError(w, http.StatusInternalServerError, oauth2.ErrorServerError, "failed to revoke tokens")
			return
		}
		expired := s.sessions.ExpireUser(userID)

		admin, _ := gate.IdentityFrom(r.Context())
		log.Info().Str("user_id", userID).Str("admin_id", admin.ID).Int("sessions_expired", expired).Msg("user sessions revoked")

		if isHTMXRequest(r) {
			redirectSuccess(w, r, RouteAdmin)
			return
		}
		writeJSON(w, http.StatusOK, RevokeResponse{UserID: userID, SessionsExpired: expired})
	}
}

// JWKSHandler publishes the RSA verification keys
func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if err := json.NewEncoder(w).Encode(s.jwks); err != nil {
			log.Warn().Err(err).Msg("failed to encode JWKS")
		}
	}
}
