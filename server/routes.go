package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHome, s.IndexHandler())
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())

	// LOGIN
	s.RegisterRouteFunc("GET "+RouteLogin, s.LoginPageUIHandler())
	s.RegisterRouteFunc("POST "+RouteAuthLogin, ChainMiddleware(s.LoginSubmissionHandler(), s.LoginRateLimitMiddleware))
	s.RegisterRouteFunc("POST "+RouteAuthExternal, ChainMiddleware(s.ExternalLoginHandler(), s.LoginRateLimitMiddleware))
	s.RegisterRouteFunc("POST "+RouteAuthLogout, s.LogoutHandler())

	// API clients manage their own token pair
	s.RegisterRouteFunc("POST "+RouteAuthToken, ChainMiddleware(s.APITokenHandler(), s.LoginRateLimitMiddleware))
	s.RegisterRouteFunc("POST "+RouteAuthRefresh, s.APIRefreshHandler())

	// Client session signal
	s.RegisterRouteFunc("GET "+RouteSessionStatus, s.SessionStatusHandler())
	s.RegisterRouteFunc("GET "+RouteSessionEvents, s.SessionEventsHandler())

	// Protected storefront areas; access is decided by the gate middleware
	s.RegisterRouteFunc("GET "+RouteAccount, s.IdentityPageHandler("account"))
	s.RegisterRouteFunc("GET "+RouteOrders, s.IdentityPageHandler("orders"))
	s.RegisterRouteFunc("GET "+RouteAdmin, s.IdentityPageHandler("admin"))
	s.RegisterRouteFunc("POST "+RouteAdminRevoke, s.AdminRevokeUserHandler())

	if s.jwks != nil {
		s.RegisterRouteFunc("GET "+RouteWellKnownJWKS, s.JWKSHandler())
	}
}

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
