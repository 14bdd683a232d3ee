package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jrsteele09/storefront-auth/identity"
	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/users"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const Schema = `
CREATE TABLE IF NOT EXISTS storefront_users (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL UNIQUE,
	display_name     TEXT NOT NULL DEFAULT '',
	image            TEXT NOT NULL DEFAULT '',
	password_hash    TEXT NOT NULL DEFAULT '',
	role             TEXT NOT NULL,
	provider         TEXT NOT NULL,
	external_subject TEXT NOT NULL DEFAULT '',
	blocked          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	last_login       TIMESTAMPTZ
)`

const selectColumns = `id, email, display_name, image, password_hash, role, provider, external_subject, blocked, created_at, COALESCE(last_login, created_at)`

var _ users.Repo = (*UserRepository)(nil)

// UserRepository implements users.Repo on PostgreSQL.
type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureSchema creates the users table if it does not exist.
func (r *UserRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (r *UserRepository) Upsert(ctx context.Context, u *users.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = users.NormaliseEmail(u.Email)

	query := `
		INSERT INTO storefront_users (id, email, display_name, image, password_hash, role, provider, external_subject, blocked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, display_name = EXCLUDED.display_name, image = EXCLUDED.image,
		    password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, provider = EXCLUDED.provider,
		    external_subject = EXCLUDED.external_subject, blocked = EXCLUDED.blocked`

	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.DisplayName,
		u.Image,
		u.PasswordHash,
		u.Role.String(),
		u.Provider.String(),
		u.ExternalSubject,
		u.Blocked,
		u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	query := `SELECT ` + selectColumns + ` FROM storefront_users WHERE email = $1`
	return r.scanUser(ctx, query, users.NormaliseEmail(email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	query := `SELECT ` + selectColumns + ` FROM storefront_users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

func (r *UserRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	ct, err := r.db.Exec(ctx, `UPDATE storefront_users SET last_login = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrNotFound, "user %s", id)
	}
	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, query string, arg string) (*users.User, error) {
	var (
		u        users.User
		role     string
		provider string
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.Image,
		&u.PasswordHash,
		&role,
		&provider,
		&u.ExternalSubject,
		&u.Blocked,
		&u.CreatedAt,
		&u.LastLogin,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "user %s", arg)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if u.Role, err = identity.ParseRole(role); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	if u.Provider, err = identity.ParseProvider(provider); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	return &u, nil
}
