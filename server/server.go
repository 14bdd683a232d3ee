package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/storefront-auth/credentials"
	"github.com/jrsteele09/storefront-auth/gate"
	"github.com/jrsteele09/storefront-auth/internal/config"
	"github.com/jrsteele09/storefront-auth/session"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/token/keys"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Credentials *credentials.Store
	Issuer      *token.Issuer
	Signer      keys.Signer
	Policy      []gate.Rule
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	router   chi.Router
	routes   []string
	config   config.Config
	creds    *credentials.Store
	issuer   *token.Issuer
	jwks     *keys.JWKS
	gate     *gate.Gate
	sessions *session.Registry
	clients  *clientHub
	limiter  *visitorStore

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Credentials == nil || deps.Issuer == nil {
		return nil, fmt.Errorf("[Server New] credentials and issuer are required")
	}

	policy := deps.Policy
	if policy == nil {
		policy = gate.DefaultPolicy
	}
	g, err := gate.New(deps.Issuer, policy)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to build gate: %w", err)
	}

	var jwks *keys.JWKS
	if kp, ok := deps.Signer.(*keys.KeyPairSigner); ok {
		if jwks, err = kp.GetJWKS(); err != nil {
			return nil, fmt.Errorf("[Server New] failed to export JWKS: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		env:    cfg.GetEnv(),
		router: chi.NewRouter(),
		config: cfg,
		creds:  deps.Credentials,
		issuer: deps.Issuer,
		jwks:   jwks,
		gate:   g,
		sessions: session.NewRegistry(deps.Issuer,
			session.WithRefreshSkew(cfg.GetRefreshSkew()),
			session.WithRefreshTimeout(cfg.GetRefreshTimeout()),
			session.WithNowFunc(deps.Issuer.Now),
		),
		limiter: newVisitorStore(cfg.GetLoginRateLimit(), cfg.GetLoginBurst(), loginLimiterTTL),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.clients = newClientHub(s.forceSignOut)

	s.initMiddleware()
	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops every session monitor.
func (s *Server) Close() {
	s.cancel()
	s.clients.stopAll()
	s.limiter.stop()
}

// Sessions exposes the session registry, mainly for tests and admin tooling.
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}

// RegisterRouteFunc registers handler under a "METHOD /path" pattern.
func (s *Server) RegisterRouteFunc(pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(pattern, handler)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		s.router.Handle(method, handler)
		return
	}
	s.router.Method(method, path, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", method
		}
		log.Debug().Msg(formatRoute(method, path))
	}
}

func formatRoute(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	return fmt.Sprintf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
