package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/config"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/rs/zerolog/log"
)

const DefaultAdminEmail = "admin@storefront.local"

// InitialiseSystem makes sure an admin account exists. Without a configured
// password one is generated and logged once.
func InitialiseSystem(ctx context.Context, cfg config.Config, repo users.Repo) (generatedPassword string, err error) {
	adminEmail := users.NormaliseEmail(cfg.GetAdminEmail())
	if adminEmail == "" {
		adminEmail = DefaultAdminEmail
	}

	existing, err := repo.GetByEmail(ctx, adminEmail)
	switch {
	case err == nil:
		if existing.Role != identity.RoleAdmin {
			return "", fmt.Errorf("[server InitialiseSystem] %s exists but is not an admin", adminEmail)
		}
		log.Debug().Str("email", adminEmail).Msg("admin account already exists")
		return "", nil
	case !errors.Is(err, errors.ErrNotFound):
		return "", fmt.Errorf("[server InitialiseSystem] failed to look up admin: %w", err)
	}

	password := cfg.GetAdminPassword()
	if password == "" {
		passwordBytes := make([]byte, 16)
		if _, err := rand.Read(passwordBytes); err != nil {
			return "", fmt.Errorf("[server InitialiseSystem] failed to generate password: %w", err)
		}
		password = base64.RawURLEncoding.EncodeToString(passwordBytes)
		generatedPassword = password
	}

	passwordHash, err := users.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] failed to hash password: %w", err)
	}

	admin := &users.User{
		DisplayName:  "Store Administrator",
		Email:        adminEmail,
		PasswordHash: passwordHash,
		Role:         identity.RoleAdmin,
		Provider:     identity.ProviderCredentials,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Upsert(ctx, admin); err != nil {
		return "", fmt.Errorf("[server InitialiseSystem] failed to create admin: %w", err)
	}

	log.Info().Str("email", adminEmail).Str("user_id", admin.ID).Msg("admin account created")
	if generatedPassword != "" {
		log.Warn().Str("email", adminEmail).Str("password", generatedPassword).Msg("generated admin password, set ADMIN_PASSWORD to choose one")
	}
	return generatedPassword, nil
}
