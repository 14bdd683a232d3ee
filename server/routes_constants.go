package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteHome    = "/"
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"

	// Auth Routes - Login & Logout
	RouteLogin        = "/login"
	RouteAuthLogin    = "/auth/login"
	RouteAuthExternal = "/auth/external"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthToken    = "/auth/token"
	RouteAuthRefresh  = "/auth/refresh"

	// Client session signal
	RouteSessionStatus = "/session/status"
	RouteSessionEvents = "/session/events"

	// Protected storefront areas
	RouteAccount     = "/account"
	RouteOrders      = "/orders"
	RouteAdmin       = "/admin"
	RouteAdminRevoke = "/admin/users/{id}/revoke"

	RouteWellKnownJWKS = "/.well-known/jwks.json"
)
