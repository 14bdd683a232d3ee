package users

import (
	"strings"
	"time"

	"github.com/jrsteele09/storefront-auth/identity"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID              string            `json:"id,omitempty"`               // Unique identifier for the user
	DisplayName     string            `json:"name,omitempty"`             // Name shown in the storefront
	Email           string            `json:"email,omitempty"`            // Login identifier, stored lower-case
	Image           string            `json:"image,omitempty"`            // Avatar URL
	PasswordHash    string            `json:"-"`                          // Empty for external-only accounts - never serialize
	Role            identity.Role     `json:"role"`                       // user or admin
	Provider        identity.Provider `json:"provider"`                   // How the user has authenticated so far
	ExternalSubject string            `json:"external_subject,omitempty"` // Subject claim from the external provider
	Blocked         bool              `json:"blocked,omitempty"`          // Blocked users cannot log in
	CreatedAt       time.Time         `json:"created_at,omitempty"`
	LastLogin       time.Time         `json:"last_login,omitempty"`
}

// Identity returns the session identity for the user.
func (u *User) Identity() identity.Identity {
	return identity.Identity{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Image:       u.Image,
		Role:        u.Role,
		Provider:    u.Provider,
	}
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// NormaliseEmail is the canonical form used for lookups.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
