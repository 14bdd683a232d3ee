package credentials

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier validates ID tokens issued by an external OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ AssertionVerifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers the provider's keys from issuerURL.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return NewOIDCVerifierFrom(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

func NewOIDCVerifierFrom(verifier *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: verifier}
}

func (v *OIDCVerifier) Verify(ctx context.Context, providerToken string) (ExternalClaims, error) {
	idToken, err := v.verifier.Verify(ctx, providerToken)
	if err != nil {
		return ExternalClaims{}, fmt.Errorf("ID token verification failed: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return ExternalClaims{}, fmt.Errorf("failed to extract claims: %w", err)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return ExternalClaims{}, fmt.Errorf("email %s is not verified by the provider", claims.Email)
	}

	return ExternalClaims{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified != nil && *claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
