// Package testutil holds shared fixtures for tests that need Postgres or Redis.
// Postgres-backed tests skip unless a database is reachable; set
// TEST_REQUIRE_DB=1 to turn the skip into a failure in CI.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/internal/migrate"
)

// authTables lists every table the auth migrations create, children first.
var authTables = []string{"auth_logs", "credentials", "profiles"}

// TestDBConfig holds configuration for test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns the test database settings from TEST_DB_* env vars.
// The port defaults to 55432, the docker-compose test profile.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "lanterna"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "lanterna"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "lanterna"),
	}
}

// DSN renders the config as a pgx URL; schema, when set, pins search_path.
func (c TestDBConfig) DSN(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", getEnvOrDefault("DB_SSL_MODE", "disable"))
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Cleanup(func())
	Skip(args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// SkipIfNoTestDB skips the test if test database is not available.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = db.PingContext(ctx)
		cancel()
		closeAndLog(t, "probe DB", db)
	}
	if err == nil {
		return
	}
	if envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") {
		t.Fatal("Test database not available:", err)
	}
	t.Skip("Test database not available:", err)
}

// SetupTestDB opens the shared test database, migrates it and empties the auth tables.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db := openAndPing(t, DefaultTestDBConfig().DSN(""))
	migrateDB(t, db)
	CleanupTestDB(t, db)
	t.Cleanup(func() {
		CleanupTestDB(t, db)
		closeAndLog(t, "test DB", db)
	})
	return db
}

// CleanupTestDB removes all auth rows from the database.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range authTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil { // #nosec G202 - fixed table list
			t.Fatalf("Failed to clean up table %s: %v", table, err)
		}
	}
}

// SetupEphemeralSchemaDB migrates a fresh schema for the test and drops it on cleanup.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	cfg := DefaultTestDBConfig()
	admin := openAndPing(t, cfg.DSN(""))
	schema := generateSchemaName()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}

	db := openAndPing(t, cfg.DSN(schema))
	db.SetMaxOpenConns(10)
	t.Logf("Using ephemeral schema: %s", schema)
	t.Cleanup(func() {
		closeAndLog(t, "schema DB", db)
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dropCancel()
		if _, err := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
		closeAndLog(t, "admin DB", admin)
	})
	migrateDB(t, db)
	return db
}

// WithAutoDB runs fn against an ephemeral schema when TEST_DB_EPHEMERAL is truthy,
// otherwise against the shared test database.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if envBool("TEST_DB_EPHEMERAL") {
		fn(SetupEphemeralSchemaDB(t))
		return
	}
	fn(SetupTestDB(t))
}

// SetupMiniRedis starts an in-process Redis server and returns a client bound to it.
// Both are closed on test cleanup.
func SetupMiniRedis(t TestingTB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		closeAndLog(t, "redis client", client)
		mr.Close()
	})
	return mr, client
}

func openAndPing(t TestingTB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeAndLog(t, "test DB", db)
		t.Fatal("Failed to connect to test database (docker-compose up -d):", err)
	}
	return db
}

func migrateDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatal("Failed to run migrations:", err)
	}
}

// generateSchemaName creates a lowercase alphanumeric schema name with prefix.
func generateSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func closeAndLog(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
