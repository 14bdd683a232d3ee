package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/token/keys"
	"github.com/jrsteele09/storefront-auth/token/refresh"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Issuer mints and rotates token pairs and verifies access tokens.
type Issuer struct {
	signer     keys.Signer
	store      refresh.Store
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowFunc    func() time.Time
}

type IssuerOption func(*Issuer)

func WithTokenExpiry(accessTTL, refreshTTL time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.accessTTL = accessTTL
		i.refreshTTL = refreshTTL
	}
}

func WithIssuer(issuer string) IssuerOption {
	return func(i *Issuer) {
		i.issuer = issuer
	}
}

func WithAudience(audience string) IssuerOption {
	return func(i *Issuer) {
		i.audience = audience
	}
}

func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func NewIssuer(signer keys.Signer, store refresh.Store, options ...IssuerOption) (*Issuer, error) {
	i := &Issuer{
		signer:     signer,
		store:      store,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(i)
	}

	if signer == nil || store == nil {
		return nil, fmt.Errorf("issuer requires a signer and a refresh store")
	}
	if i.accessTTL <= 0 {
		return nil, fmt.Errorf("access token TTL must be positive, got %s", i.accessTTL)
	}
	if i.refreshTTL <= i.accessTTL {
		return nil, fmt.Errorf("refresh token TTL %s must exceed access token TTL %s", i.refreshTTL, i.accessTTL)
	}
	return i, nil
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// Now is the clock the issuer validates expiry against.
func (i *Issuer) Now() time.Time {
	return i.nowFunc()
}

// Issue starts a new token family for id and returns its first pair.
func (i *Issuer) Issue(ctx context.Context, id identity.Identity) (Pair, error) {
	if err := id.Validate(); err != nil {
		return Pair{}, errors.Wrapf(err, "[Issuer.Issue]")
	}
	return i.mint(ctx, id, uuid.New().String())
}

// Refresh exchanges a refresh token value for a new pair in the same family.
// Every failure is reported as ErrRefreshInvalid. Presenting a value that was
// already exchanged revokes the whole family.
func (i *Issuer) Refresh(ctx context.Context, value string) (Pair, error) {
	pair, err := i.refresh(ctx, value)
	if err != nil {
		metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeFailure).Inc()
		return Pair{}, err
	}
	metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return pair, nil
}

func (i *Issuer) refresh(ctx context.Context, value string) (Pair, error) {
	if !refresh.WellFormed(value) {
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "malformed refresh token")
	}

	record, err := i.store.Consume(ctx, refresh.Hash(value))
	switch {
	case errors.Is(err, errors.ErrRefreshReused):
		log.Warn().Str("family_id", record.FamilyID).Msg("refresh token replay detected, revoking family")
		if revokeErr := i.store.RevokeFamily(ctx, record.FamilyID); revokeErr != nil {
			log.Err(revokeErr).Str("family_id", record.FamilyID).Msg("failed to revoke token family")
		}
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "%s", err.Error())
	case errors.Is(err, errors.ErrNotFound):
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "unknown refresh token")
	case err != nil:
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "consume refresh token: %s", err.Error())
	}

	if record.Expired(i.nowFunc()) {
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "refresh token expired at %s", record.ExpiresAt.Format(time.RFC3339))
	}
	revoked, err := i.store.FamilyRevoked(ctx, record.FamilyID)
	if err != nil {
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "revocation lookup: %s", err.Error())
	}
	if revoked {
		return Pair{}, errors.Wrapf(errors.ErrRefreshInvalid, "token family revoked")
	}

	return i.mint(ctx, record.Identity, record.FamilyID)
}

// Verify checks an access token locally: signature, type, issuer, audience
// and expiry against the issuer clock. It performs no I/O.
func (i *Issuer) Verify(raw string) (*AccessToken, error) {
	if raw == "" {
		return nil, errors.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.nowFunc),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, i.signer.GetVerificationKey, opts...); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "%s", err.Error())
	}
	if claims.Type != accessTokenType {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "unexpected token type %q", claims.Type)
	}
	id := claims.identity()
	if err := id.Validate(); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "%s", err.Error())
	}

	token := &AccessToken{
		Raw:       raw,
		ID:        claims.ID,
		Claims:    id,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Time
	}
	return token, nil
}

// RevokeUser kills every token family of a user.
func (i *Issuer) RevokeUser(ctx context.Context, userID string) error {
	if err := i.store.RevokeUser(ctx, userID); err != nil {
		return errors.Wrapf(err, "[Issuer.RevokeUser] %s", userID)
	}
	return nil
}

// RevokeSession kills a single token family.
func (i *Issuer) RevokeSession(ctx context.Context, sessionID string) error {
	if err := i.store.RevokeFamily(ctx, sessionID); err != nil {
		return errors.Wrapf(err, "[Issuer.RevokeSession] %s", sessionID)
	}
	return nil
}

// SessionRevoked reports whether a token family has been revoked.
func (i *Issuer) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	return i.store.FamilyRevoked(ctx, sessionID)
}

func (i *Issuer) mint(ctx context.Context, id identity.Identity, familyID string) (Pair, error) {
	// JWT dates have second precision; truncating keeps ExpiresAt equal to the exp claim.
	now := i.nowFunc().Truncate(time.Second)
	accessExpiry := now.Add(i.accessTTL)
	refreshExpiry := now.Add(i.refreshTTL)

	claims := newClaims(id, familyID)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   id.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(accessExpiry),
		ID:        uuid.New().String(),
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	raw, err := i.signer.Sign(claims)
	if err != nil {
		return Pair{}, errors.Wrapf(err, "[Issuer.mint] sign")
	}

	value, err := refresh.NewValue()
	if err != nil {
		return Pair{}, errors.Wrapf(err, "[Issuer.mint] refresh value")
	}
	if err := i.store.Save(ctx, &refresh.Record{
		Hash:      refresh.Hash(value),
		FamilyID:  familyID,
		Identity:  id,
		IssuedAt:  now,
		ExpiresAt: refreshExpiry,
	}); err != nil {
		return Pair{}, errors.Wrapf(err, "[Issuer.mint] save refresh record")
	}

	return Pair{
		Access: AccessToken{
			Raw:       raw,
			ID:        claims.ID,
			Claims:    id,
			SessionID: familyID,
			IssuedAt:  now,
			ExpiresAt: accessExpiry,
		},
		Refresh: RefreshToken{
			Value:     value,
			ExpiresAt: refreshExpiry,
		},
	}, nil
}
