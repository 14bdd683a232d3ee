package oauth2

import (
	"time"

	"github.com/jrsteele09/storefront-auth/token"
)

const TokenTypeBearer = "Bearer"

// TokenResponse is the token pair handed to API clients, in the RFC 6749
// token endpoint shape.
type TokenResponse struct {
	// AccessToken is the signed JWT sent as "Authorization: Bearer <access_token>".
	AccessToken string `json:"access_token"`

	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds. The JWT's exp claim
	// is authoritative.
	ExpiresIn int64 `json:"expires_in"`

	// RefreshToken is opaque and single use: every exchange returns a new one.
	RefreshToken string `json:"refresh_token,omitempty"`

	RefreshExpiresIn int64 `json:"refresh_expires_in,omitempty"`
}

// NewTokenResponse describes pair as seen at now.
func NewTokenResponse(pair token.Pair, now time.Time) TokenResponse {
	resp := TokenResponse{
		AccessToken: pair.Access.Raw,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   secondsUntil(pair.Access.ExpiresAt, now),
	}
	if pair.Refresh.Value != "" {
		resp.RefreshToken = pair.Refresh.Value
		resp.RefreshExpiresIn = secondsUntil(pair.Refresh.ExpiresAt, now)
	}
	return resp
}

func secondsUntil(t, now time.Time) int64 {
	if !t.After(now) {
		return 0
	}
	return int64(t.Sub(now) / time.Second)
}
