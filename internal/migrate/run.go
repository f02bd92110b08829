// Package migrate applies the embedded schema for profiles, credentials and the auth log.
//
// Files under migrations/ are applied in lexical order, each in its own transaction,
// and recorded in schema_migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// MigrationStatus reports whether one embedded migration has been applied.
type MigrationStatus struct {
	Version string
	Applied bool
}

// Run applies every pending migration. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	files, err := migrationFiles()
	if err != nil {
		return err
	}
	logger := slog.Default().With("component", "migrations")
	for _, f := range files {
		applied, err := isApplied(ctx, db, f)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		logger.InfoContext(ctx, "applying migration", "version", version(f))
		if err := apply(ctx, db, f); err != nil {
			return err
		}
	}
	return nil
}

// Status lists every embedded migration and whether it has been applied.
// It never creates schema_migrations.
func Status(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	files, err := migrationFiles()
	if err != nil {
		return nil, err
	}
	var hasTable bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&hasTable); err != nil {
		return nil, fmt.Errorf("check schema_migrations table: %w", err)
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		st := MigrationStatus{Version: version(f)}
		if hasTable {
			if st.Applied, err = isApplied(ctx, db, f); err != nil {
				return nil, err
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func migrationFiles() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func version(file string) string { return strings.TrimSuffix(file, ".sql") }

func isApplied(ctx context.Context, db *sql.DB, file string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version(file)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", file, err)
	}
	return exists, nil
}

// apply runs one migration file and records it in the same transaction.
func apply(ctx context.Context, db *sql.DB, file string) (err error) {
	body, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback %s: %w", file, rbErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version(file)); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}
