package identity

import (
	"fmt"
	"strings"
)

// Role is the closed set of storefront roles. Adding a role means updating
// Roles() and the gate's grant table; gate.New refuses to build otherwise.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAdmin
)

// Roles returns every defined role.
func Roles() []Role {
	return []Role{RoleUser, RoleAdmin}
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole converts the wire form of a role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Provider records how an identity authenticated.
type Provider uint8

const (
	ProviderCredentials Provider = iota + 1
	ProviderExternal
	ProviderBoth
)

func (p Provider) String() string {
	switch p {
	case ProviderCredentials:
		return "credentials"
	case ProviderExternal:
		return "external"
	case ProviderBoth:
		return "both"
	}
	return fmt.Sprintf("Provider(%d)", uint8(p))
}

func (p Provider) Valid() bool {
	return p == ProviderCredentials || p == ProviderExternal || p == ProviderBoth
}

// ParseProvider converts the wire form of a provider. Unknown values are rejected.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credentials":
		return ProviderCredentials, nil
	case "external":
		return ProviderExternal, nil
	case "both":
		return ProviderBoth, nil
	}
	return 0, fmt.Errorf("unknown provider %q", s)
}

// Merge returns the provider after authenticating additionally through other.
func (p Provider) Merge(other Provider) Provider {
	if !p.Valid() {
		return other
	}
	if p == other {
		return p
	}
	return ProviderBoth
}

func (p Provider) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid provider %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(text []byte) error {
	parsed, err := ParseProvider(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Identity is the verified principal behind a session. It is created at
// authentication and never mutated while the session lives.
type Identity struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"name"`
	Email       string   `json:"email"`
	Image       string   `json:"image,omitempty"`
	Role        Role     `json:"role"`
	Provider    Provider `json:"provider"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Validate checks that the identity can be embedded in an access token.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if !i.Role.Valid() {
		return fmt.Errorf("identity %s has invalid role", i.ID)
	}
	if !i.Provider.Valid() {
		return fmt.Errorf("identity %s has invalid provider", i.ID)
	}
	return nil
}
