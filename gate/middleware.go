package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/storefront-auth/identity"
)

type contextKey string

const (
	identityKey    contextKey = "identity"
	accessTokenKey contextKey = "access_token"
)

const (
	DefaultLoginPath = "/login"
	DefaultHomePath  = "/"
)

// WithIdentity attaches the verified identity for downstream handlers.
func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom is the only way handlers should learn who the caller is.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}

// WithAccessToken hands the gate the raw access token of a cookie session.
func WithAccessToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, accessTokenKey, raw)
}

func AccessTokenFrom(ctx context.Context) string {
	raw, _ := ctx.Value(accessTokenKey).(string)
	return raw
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	return raw, raw != ""
}

type middlewareConfig struct {
	loginPath string
	homePath  string
}

type MiddlewareOption func(*middlewareConfig)

func WithLoginPath(p string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.loginPath = p
	}
}

func WithHomePath(p string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.homePath = p
	}
}

// Middleware runs the gate ahead of every handler. Bearer requests are API
// requests; otherwise the token comes from WithAccessToken.
func Middleware(g *Gate, options ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{loginPath: DefaultLoginPath, homePath: DefaultHomePath}
	for _, opt := range options {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, api := BearerToken(r)
			if !api {
				raw = AccessTokenFrom(r.Context())
			}

			result := g.Evaluate(Request{Path: r.URL.Path, RawToken: raw, API: api})
			switch result.Decision {
			case Allow:
				if result.Identity != nil {
					r = r.WithContext(WithIdentity(r.Context(), *result.Identity))
				}
				next.ServeHTTP(w, r)
			case RedirectToLogin:
				redirect(w, r, LoginURL(cfg.loginPath, "login_required", r.URL.RequestURI()))
			case RedirectToHome:
				redirect(w, r, cfg.homePath)
			case Reject:
				reject(w, result.Reason)
			}
		})
	}
}

// LoginURL builds the login redirect carrying the notice and return path.
func LoginURL(loginPath, notice, next string) string {
	q := url.Values{}
	if notice != "" {
		q.Set("notice", notice)
	}
	if next != "" && next != loginPath {
		q.Set("next", next)
	}
	if len(q) == 0 {
		return loginPath
	}
	return loginPath + "?" + q.Encode()
}

// redirect is htmx-aware: htmx requests get an HX-Redirect instruction.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func reject(w http.ResponseWriter, reason Reason) {
	status := http.StatusUnauthorized
	body := map[string]string{"error": "unauthorized", "error_description": "valid access token required"}
	if reason == ReasonForbidden {
		status = http.StatusForbidden
		body = map[string]string{"error": "forbidden", "error_description": "insufficient role"}
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
