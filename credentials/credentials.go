package credentials

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/rs/zerolog/log"
)

// ExternalClaims is what the credential store needs from a validated
// external-provider assertion.
type ExternalClaims struct {
	Subject       string
	Email         string
	// EmailVerified is false unless the provider asserted it.
	EmailVerified bool
	Name          string
	Picture       string
}

// AssertionVerifier validates an external-provider token (an OIDC ID token).
type AssertionVerifier interface {
	Verify(ctx context.Context, providerToken string) (ExternalClaims, error)
}

// Store verifies login input and returns the identity to mint tokens for.
type Store struct {
	users      users.Repo
	assertions AssertionVerifier
	nowFunc    func() time.Time
}

type Option func(*Store)

// WithAssertionVerifier enables external-provider logins.
func WithAssertionVerifier(v AssertionVerifier) Option {
	return func(s *Store) {
		s.assertions = v
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func NewStore(repo users.Repo, options ...Option) *Store {
	s := &Store{users: repo}
	for _, opt := range options {
		opt(s)
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	return s
}

// ExternalEnabled reports whether external-provider logins are configured.
func (s *Store) ExternalEnabled() bool {
	return s.assertions != nil
}

// Verify checks an email/password pair. Every failure, including unknown
// accounts, is reported as ErrInvalidCredentials.
func (s *Store) Verify(ctx context.Context, identifier, secret string) (identity.Identity, error) {
	email := users.NormaliseEmail(identifier)
	if email == "" || secret == "" {
		return identity.Identity{}, errors.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			log.Err(err).Str("email", email).Msg("credential lookup failed")
		}
		return identity.Identity{}, errors.ErrInvalidCredentials
	}
	if user.Blocked || !user.HasPassword() {
		return identity.Identity{}, errors.ErrInvalidCredentials
	}
	if !users.CheckPasswordHash(secret, user.PasswordHash) {
		return identity.Identity{}, errors.ErrInvalidCredentials
	}

	s.recordLogin(ctx, user.ID)
	return user.Identity(), nil
}

// VerifyExternalAssertion validates a provider token and returns the matching
// identity, creating the account on first login. An existing password account
// with the same email is linked and its provider becomes "both".
func (s *Store) VerifyExternalAssertion(ctx context.Context, providerToken string) (identity.Identity, error) {
	if s.assertions == nil || strings.TrimSpace(providerToken) == "" {
		return identity.Identity{}, errors.ErrInvalidAssertion
	}

	claims, err := s.assertions.Verify(ctx, providerToken)
	if err != nil {
		log.Debug().Err(err).Msg("external assertion rejected")
		return identity.Identity{}, errors.Wrapf(errors.ErrInvalidAssertion, "%s", err.Error())
	}
	email := users.NormaliseEmail(claims.Email)
	if email == "" || claims.Subject == "" {
		return identity.Identity{}, errors.Wrapf(errors.ErrInvalidAssertion, "assertion missing subject or email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		user = &users.User{
			Email:     email,
			Role:      identity.RoleUser,
			Provider:  identity.ProviderExternal,
			CreatedAt: s.nowFunc().UTC(),
		}
	case err != nil:
		return identity.Identity{}, errors.Wrapf(err, "[credentials VerifyExternalAssertion] lookup %s", email)
	}

	if user.Blocked {
		return identity.Identity{}, errors.ErrInvalidAssertion
	}
	if user.ExternalSubject != "" && user.ExternalSubject != claims.Subject {
		return identity.Identity{}, errors.Wrapf(errors.ErrInvalidAssertion, "subject mismatch for %s", email)
	}
	// An existing account is only linked by an email the provider vouches for.
	if user.ID != "" && user.ExternalSubject == "" && !claims.EmailVerified {
		return identity.Identity{}, errors.Wrapf(errors.ErrInvalidAssertion, "unverified email %s cannot link an existing account", email)
	}

	user.ExternalSubject = claims.Subject
	user.Provider = user.Provider.Merge(identity.ProviderExternal)
	if user.DisplayName == "" {
		user.DisplayName = claims.Name
	}
	if user.Image == "" {
		user.Image = claims.Picture
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return identity.Identity{}, errors.Wrapf(err, "[credentials VerifyExternalAssertion] upsert %s", email)
	}

	s.recordLogin(ctx, user.ID)
	return user.Identity(), nil
}

// Lookup returns the current identity for a user id.
func (s *Store) Lookup(ctx context.Context, userID string) (identity.Identity, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return identity.Identity{}, err
	}
	return user.Identity(), nil
}

func (s *Store) recordLogin(ctx context.Context, userID string) {
	if err := s.users.SetLastLogin(ctx, userID, s.nowFunc().UTC()); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to record last login")
	}
}
