package users

import (
	"context"
	"time"
)

// Repo persists storefront accounts. Lookups that find nothing return an
// error wrapping errors.ErrNotFound.
type Repo interface {
	Upsert(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error
}
