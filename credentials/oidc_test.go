package credentials_test

import (
	"context"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/storefront-auth/credentials"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://accounts.example.com"
	testClientID = "storefront-web"
)

func newTestOIDCVerifier() *credentials.OIDCVerifier {
	return credentials.NewOIDCVerifierFrom(oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{}, &oidc.Config{
		ClientID:                   testClientID,
		SupportedSigningAlgs:       []string{"HS256"},
		InsecureSkipSignatureCheck: true,
	}))
}

func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	require.NoError(t, err)
	return raw
}

func TestOIDCVerifier_Verify(t *testing.T) {
	v := newTestOIDCVerifier()
	now := time.Now()

	t.Run("valid id token", func(t *testing.T) {
		raw := signIDToken(t, jwt.MapClaims{
			"iss":            testIssuer,
			"aud":            testClientID,
			"sub":            "provider-sub",
			"email":          "jane@example.com",
			"email_verified": true,
			"name":           "Jane",
			"picture":        "https://img.example.com/jane.png",
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
		})

		claims, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
		require.Equal(t, "provider-sub", claims.Subject)
		require.Equal(t, "jane@example.com", claims.Email)
		require.Equal(t, "Jane", claims.Name)
		require.Equal(t, "https://img.example.com/jane.png", claims.Picture)
		require.True(t, claims.EmailVerified)
	})

	t.Run("absent email_verified is unverified", func(t *testing.T) {
		raw := signIDToken(t, jwt.MapClaims{
			"iss":   testIssuer,
			"aud":   testClientID,
			"sub":   "provider-sub",
			"email": "jane@example.com",
			"iat":   now.Unix(),
			"exp":   now.Add(time.Hour).Unix(),
		})
		claims, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
		require.False(t, claims.EmailVerified)
	})

	t.Run("wrong audience", func(t *testing.T) {
		raw := signIDToken(t, jwt.MapClaims{
			"iss": testIssuer,
			"aud": "someone-else",
			"sub": "provider-sub",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		})
		_, err := v.Verify(context.Background(), raw)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		raw := signIDToken(t, jwt.MapClaims{
			"iss": testIssuer,
			"aud": testClientID,
			"sub": "provider-sub",
			"iat": now.Add(-2 * time.Hour).Unix(),
			"exp": now.Add(-time.Hour).Unix(),
		})
		_, err := v.Verify(context.Background(), raw)
		require.Error(t, err)
	})

	t.Run("unverified email", func(t *testing.T) {
		raw := signIDToken(t, jwt.MapClaims{
			"iss":            testIssuer,
			"aud":            testClientID,
			"sub":            "provider-sub",
			"email":          "jane@example.com",
			"email_verified": false,
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
		})
		_, err := v.Verify(context.Background(), raw)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not verified")
	})
}
