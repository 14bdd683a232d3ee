package config

import "time"

type SessionConfig interface {
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetRefreshSkew() time.Duration
	GetRefreshTimeout() time.Duration
	GetMonitorInterval() time.Duration
	GetTokenIssuer() string
	GetTokenAudience() string
	GetSigningSecret() string
	GetSigningKeyFile() string
	GetSigningKeyID() string
}

type Session struct {
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"` // 7 days
	RefreshSkew     time.Duration `env:"REFRESH_SKEW" envDefault:"5s"`
	RefreshTimeout  time.Duration `env:"REFRESH_TIMEOUT" envDefault:"10s"`
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL" envDefault:"5m"`
	TokenIssuer     string        `env:"TOKEN_ISSUER"`
	TokenAudience   string        `env:"TOKEN_AUDIENCE" envDefault:"storefront"`
	SigningSecret   string        `env:"SIGNING_SECRET"`
	SigningKeyFile  string        `env:"SIGNING_KEY_FILE"`
	SigningKeyID    string        `env:"SIGNING_KEY_ID" envDefault:"storefront-1"`
}

var _ SessionConfig = Session{}

func (s Session) GetAccessTokenTTL() time.Duration {
	return s.AccessTokenTTL
}

func (s Session) GetRefreshTokenTTL() time.Duration {
	return s.RefreshTokenTTL
}

// GetRefreshSkew is the guard window before access-token expiry in which a
// refresh is started, so no request leaves with a token that dies mid-flight.
func (s Session) GetRefreshSkew() time.Duration {
	return s.RefreshSkew
}

func (s Session) GetRefreshTimeout() time.Duration {
	return s.RefreshTimeout
}

func (s Session) GetMonitorInterval() time.Duration {
	return s.MonitorInterval
}

func (s Session) GetTokenIssuer() string {
	return s.TokenIssuer
}

func (s Session) GetTokenAudience() string {
	return s.TokenAudience
}

func (s Session) GetSigningSecret() string {
	return s.SigningSecret
}

// GetSigningKeyFile points at an RSA private key PEM. When set it takes
// precedence over the HMAC secret.
func (s Session) GetSigningKeyFile() string {
	return s.SigningKeyFile
}

func (s Session) GetSigningKeyID() string {
	return s.SigningKeyID
}
