package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/data"
)

const (
	connectTimeout    = 5 * time.Second
	defaultMaxDBConns = 25
)

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// postgresDSN renders cfg as a pgx URL; url.URL escapes credentials.
func postgresDSN(cfg config.DBConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConnectDB opens the Postgres pool holding profiles, credentials and the auth log.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", postgresDSN(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.DBConfig.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxDBConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(5, maxOpen))
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := pingOrClose(db.PingContext, db.Close); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", cfg.DBConfig.Host,
			"port", cfg.DBConfig.Port,
			"database", cfg.DBConfig.Name,
		)
	}
	return db, nil
}

// ConnectRedis connects the session store, through sentinel when configured.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single or sentinel clients at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	client, desc, err := newRedisClient(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := pingOrClose(ping, client.Close); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("redis connected", "addr", redactAddr(desc))
	}
	return client, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func newRedisClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	if cfg.UseSentinel {
		nodes := normalizeAddrs(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		client := redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.SentinelMasterName,
			SentinelAddrs:    nodes,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		})
		return client, "sentinel:" + cfg.SentinelMasterName, nil
	}

	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, "", errors.New("redis direct configuration requires a URI")
	}
	if !isRedisURL(uri) {
		return redis.NewClient(&redis.Options{Addr: uri, Password: cfg.Password, DB: cfg.DB}), uri, nil
	}
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, "", fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), uri, nil
}

// pingOrClose pings within connectTimeout and closes the handle on failure.
func pingOrClose(ping func(context.Context) error, closeFn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	err := ping(ctx)
	if err == nil {
		return nil
	}
	if closeErr := closeFn(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close: %w", closeErr))
	}
	return err
}

// redactAddr strips credentials from a redis URL for logging.
func redactAddr(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		return u.Host
	}
	if i := strings.LastIndex(addr, "@"); i > -1 {
		return addr[i+1:]
	}
	return addr
}

func normalizeAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// RunMigrations applies the auth schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}
