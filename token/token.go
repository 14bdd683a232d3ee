package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/storefront-auth/identity"
)

const accessTokenType = "access"

// AccessToken is a verified, short-lived bearer credential.
type AccessToken struct {
	Raw       string
	ID        string // jti
	Claims    identity.Identity
	SessionID string // token family the token belongs to
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t AccessToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshToken is the opaque, single-use credential exchanged for a new pair.
type RefreshToken struct {
	Value     string
	ExpiresAt time.Time
}

// Pair is what a login or refresh hands to a session.
type Pair struct {
	Access  AccessToken
	Refresh RefreshToken
}

// Claims is the JWT payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Name      string            `json:"name,omitempty"`
	Email     string            `json:"email,omitempty"`
	Picture   string            `json:"picture,omitempty"`
	Role      identity.Role     `json:"role"`
	Provider  identity.Provider `json:"provider"`
	SessionID string            `json:"sid"`
	Type      string            `json:"typ"`
}

func newClaims(id identity.Identity, sessionID string) *Claims {
	return &Claims{
		Name:      id.DisplayName,
		Email:     id.Email,
		Picture:   id.Image,
		Role:      id.Role,
		Provider:  id.Provider,
		SessionID: sessionID,
		Type:      accessTokenType,
	}
}

func (c *Claims) identity() identity.Identity {
	return identity.Identity{
		ID:          c.Subject,
		DisplayName: c.Name,
		Email:       c.Email,
		Image:       c.Picture,
		Role:        c.Role,
		Provider:    c.Provider,
	}
}
