package oauth2_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/storefront-auth/oauth2"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/stretchr/testify/require"
)

func TestNewTokenResponse(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pair := token.Pair{
		Access:  token.AccessToken{Raw: "access", ExpiresAt: now.Add(15 * time.Minute)},
		Refresh: token.RefreshToken{Value: "refresh", ExpiresAt: now.Add(7 * 24 * time.Hour)},
	}

	resp := oauth2.NewTokenResponse(pair, now)
	require.Equal(t, "access", resp.AccessToken)
	require.Equal(t, oauth2.TokenTypeBearer, resp.TokenType)
	require.Equal(t, int64(900), resp.ExpiresIn)
	require.Equal(t, "refresh", resp.RefreshToken)
	require.Equal(t, int64(7*24*3600), resp.RefreshExpiresIn)

	expired := oauth2.NewTokenResponse(token.Pair{Access: token.AccessToken{Raw: "a", ExpiresAt: now.Add(-time.Second)}}, now)
	require.Zero(t, expired.ExpiresIn)
	require.Empty(t, expired.RefreshToken)
	require.Zero(t, expired.RefreshExpiresIn)
}
