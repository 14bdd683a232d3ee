package config

type SecurityConfig interface {
	GetLoginRateLimit() float64
	GetLoginBurst() int
	GetSecureCookies() bool
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetAdminEmail() string
	GetAdminPassword() string
}

type Security struct {
	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT" envDefault:"1"`
	LoginBurst     int     `env:"LOGIN_BURST" envDefault:"5"`
	SecureCookies  bool    `env:"SECURE_COOKIES" envDefault:"false"`
	OIDCIssuer     string  `env:"OIDC_ISSUER"`
	OIDCClientID   string  `env:"OIDC_CLIENT_ID"`
	AdminEmail     string  `env:"ADMIN_EMAIL"`
	AdminPassword  string  `env:"ADMIN_PASSWORD"`
}

var _ SecurityConfig = Security{}

// GetLoginRateLimit is the sustained number of login attempts per second per client IP.
func (s Security) GetLoginRateLimit() float64 {
	return s.LoginRateLimit
}

func (s Security) GetLoginBurst() int {
	return s.LoginBurst
}

func (s Security) GetSecureCookies() bool {
	return s.SecureCookies
}

// GetOIDCIssuer enables external-provider logins when set.
func (s Security) GetOIDCIssuer() string {
	return s.OIDCIssuer
}

func (s Security) GetOIDCClientID() string {
	return s.OIDCClientID
}

// GetAdminEmail seeds an admin account at start-up when set together with GetAdminPassword.
func (s Security) GetAdminEmail() string {
	return s.AdminEmail
}

func (s Security) GetAdminPassword() string {
	return s.AdminPassword
}
