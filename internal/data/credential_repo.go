package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/ports"
)

var _ ports.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo stores password hashes for the local credential provider.
type CredentialRepo struct {
	DB *sql.DB
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{DB: db}
}

// Create inserts a credential. A duplicate email yields a conflict error.
func (r *CredentialRepo) Create(ctx context.Context, email, passwordHash string) (domainauth.Principal, error) {
	email = domainauth.NormalizeEmail(email)
	var id string
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO credentials (email, password_hash) VALUES ($1, $2) RETURNING id::text`,
		email, passwordHash,
	).Scan(&id)
	if err != nil {
		return domainauth.Principal{}, fmt.Errorf("create credential: %w", apperrors.MapDBError(err))
	}
	return domainauth.Principal{ID: id, Email: email}, nil
}

// GetByEmail returns the principal and password hash for email.
func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (domainauth.Principal, string, error) {
	var p domainauth.Principal
	var hash string
	err := r.DB.QueryRowContext(ctx,
		`SELECT id::text, email, password_hash FROM credentials WHERE lower(email) = lower($1)`,
		domainauth.NormalizeEmail(email),
	).Scan(&p.ID, &p.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domainauth.Principal{}, "", apperrors.NotFound("credential not found")
	}
	if err != nil {
		return domainauth.Principal{}, "", fmt.Errorf("get credential: %w", apperrors.MapDBError(err))
	}
	return p, hash, nil
}

// GetByID returns the principal with id.
func (r *CredentialRepo) GetByID(ctx context.Context, id string) (domainauth.Principal, error) {
	var p domainauth.Principal
	err := r.DB.QueryRowContext(ctx,
		`SELECT id::text, email FROM credentials WHERE id::text = $1`, id,
	).Scan(&p.ID, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return domainauth.Principal{}, apperrors.NotFound("credential not found")
	}
	if err != nil {
		return domainauth.Principal{}, fmt.Errorf("get credential: %w", apperrors.MapDBError(err))
	}
	return p, nil
}
