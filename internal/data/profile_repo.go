package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lanterna/lanterna-api/internal/data/pgxutil"
	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/ports"
)

var _ ports.ProfileStore = (*ProfileRepo)(nil)

const profileColumns = `id, email, full_name, role, login_count, last_login_at, created_at, updated_at`

// ProfileRepo is the Postgres-backed durable profile store.
type ProfileRepo struct {
	DB *sql.DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db}
}

func (r *ProfileRepo) queryProfile(ctx context.Context, query string, args ...any) (*domainauth.Profile, error) {
	var p domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		p, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.Profile])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &p, nil
}

// GetRole returns the stored role for principalID.
func (r *ProfileRepo) GetRole(ctx context.Context, principalID string) (domainauth.Role, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id = $1`, principalID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		err = pgx.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("get role: %w", apperrors.MapDBError(err))
	}
	return domainauth.ParseRole(role), nil
}

// GetProfile returns the full profile for principalID.
func (r *ProfileRepo) GetProfile(ctx context.Context, principalID string) (*domainauth.Profile, error) {
	p, err := r.queryProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, principalID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// UpsertProfile inserts the profile with role, or refreshes the email of an existing one.
// An existing role is never overwritten here; SetRole is the only way to change it.
func (r *ProfileRepo) UpsertProfile(ctx context.Context, principal domainauth.Principal, role domainauth.Role) (*domainauth.Profile, error) {
	if principal.ID == "" {
		return nil, apperrors.ValidationField("id", "principal id is required")
	}
	if !role.Valid() {
		return nil, apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", role))
	}
	p, err := r.queryProfile(ctx, `
		INSERT INTO profiles (id, email, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, updated_at = now()
		RETURNING `+profileColumns,
		principal.ID, domainauth.NormalizeEmail(principal.Email), string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return p, nil
}

// CheckAdminRole runs the privileged is_admin() check together with the profile read.
// A principal with no profile yields ErrProfileNotFound.
func (r *ProfileRepo) CheckAdminRole(ctx context.Context, principalID string) (domainauth.RoleCheck, error) {
	type row struct {
		IsAdmin bool `db:"is_admin"`
		domainauth.Profile
	}
	var out row
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT is_admin(id) AS is_admin, `+profileColumns+` FROM profiles WHERE id = $1`, principalID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[row])
		return err
	})
	if err != nil {
		return domainauth.RoleCheck{}, fmt.Errorf("check admin role: %w", apperrors.MapDBError(err))
	}
	p := out.Profile
	return domainauth.RoleCheck{IsAdmin: out.IsAdmin, Profile: &p}, nil
}

// RecordLogin increments login_count and stamps last_login_at.
func (r *ProfileRepo) RecordLogin(ctx context.Context, principalID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE profiles
		SET login_count = login_count + 1, last_login_at = $2, updated_at = now()
		WHERE id = $1`, principalID, at.UTC())
	if err != nil {
		return fmt.Errorf("record login: %w", apperrors.MapDBError(err))
	}
	return requireOneRow(res, "record login")
}

// SetRole changes the stored role of an existing profile.
func (r *ProfileRepo) SetRole(ctx context.Context, principalID string, role domainauth.Role) error {
	if !role.Valid() {
		return apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", role))
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE profiles SET role = $2, updated_at = now() WHERE id = $1`, principalID, string(role))
	if err != nil {
		return fmt.Errorf("set role: %w", apperrors.MapDBError(err))
	}
	return requireOneRow(res, "set role")
}

// ListByRole returns every profile with role, newest login first.
func (r *ProfileRepo) ListByRole(ctx context.Context, role domainauth.Role) ([]domainauth.Profile, error) {
	var out []domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+profileColumns+` FROM profiles
			WHERE role = $1 ORDER BY last_login_at DESC NULLS LAST, email`, string(role))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[domainauth.Profile])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

func requireOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, apperrors.MapDBError(pgx.ErrNoRows))
	}
	return nil
}
