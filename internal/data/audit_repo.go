package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lanterna/lanterna-api/internal/data/pgxutil"
	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/ports"
)

var _ ports.AuditStore = (*AuditRepo)(nil)

// AuditRepo persists the auth_logs table.
type AuditRepo struct {
	DB *sql.DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{DB: db}
}

// Insert appends one entry. A zero timestamp uses the database clock.
func (r *AuditRepo) Insert(ctx context.Context, e domainauth.LogEntry) error {
	var ts any
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO auth_logs (created_at, user_id, email, action, method, ip_address, user_agent, success, error)
		VALUES (COALESCE($1::timestamptz, now()), $2, $3, $4, $5, $6, $7, $8, $9)`,
		ts, e.UserID, e.Email, string(e.Action), e.Method, e.IPAddress, e.UserAgent, e.Success, e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert auth log: %w", apperrors.MapDBError(err))
	}
	return nil
}

// DeleteOlderThan removes entries created before cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM auth_logs WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge auth logs: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge auth logs: %w", err)
	}
	return n, nil
}

// Statistics aggregates entries created at or after since. Both queries run in one
// read-only snapshot so the totals agree.
func (r *AuditRepo) Statistics(ctx context.Context, since time.Time) (domainauth.Statistics, error) {
	stats := domainauth.Statistics{Since: since}
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				SELECT action, count(*) AS total, count(*) FILTER (WHERE NOT success) AS failures
				FROM auth_logs
				WHERE created_at >= $1
				GROUP BY action
				ORDER BY action`, since.UTC())
			if err != nil {
				return err
			}
			stats.Actions, err = pgx.CollectRows(rows, pgx.RowToStructByPos[domainauth.ActionStats])
			if err != nil {
				return err
			}
			return tx.QueryRow(ctx, `
				SELECT count(DISTINCT user_id) FILTER (WHERE user_id <> ''),
				       count(*) FILTER (WHERE action = 'admin_check' AND method = $2)
				FROM auth_logs
				WHERE created_at >= $1`, since.UTC(), string(domainauth.MethodFallback),
			).Scan(&stats.UniquePrincipals, &stats.FallbackChecks)
		},
	})
	if err != nil {
		return domainauth.Statistics{}, fmt.Errorf("auth log statistics: %w", apperrors.MapDBError(err))
	}
	return stats, nil
}
