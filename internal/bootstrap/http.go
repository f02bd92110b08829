package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/config"
	httpx "github.com/lanterna/lanterna-api/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil || cfg.Services.Auth == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := buildHTTPHandler(httpHandlerConfig{
		Logger:   logger,
		Services: routerServices(appCfg, cfg.Services, readinessChecks(cfg.DB, cfg.RedisClient), logger),
	})

	// Start server (logs "starting HTTP server" internally)
	return startServer(logger, handler, appCfg.HTTP)
}

func routerServices(
	appCfg *config.AppConfig,
	svc ServiceContainer,
	ready map[string]httpx.Pinger,
	logger *slog.Logger,
) httpx.RouterServices {
	return httpx.RouterServices{
		Login:    svc.Auth.Login,
		Sessions: svc.Auth.Sessions,
		Verifier: svc.Auth.Verifier,
		Stats:    svc.Auth.Audit,
		Cache:    svc.Auth.Cache,
		Audit:    svc.Auth.Audit,
		Routes: httpx.GateRoutes{
			PagePrefixes:     appCfg.HTTP.ProtectedPagePrefixes,
			APIPrefixes:      appCfg.HTTP.ProtectedAPIPrefixes,
			StaticPrefixes:   appCfg.HTTP.StaticPrefixes,
			Locales:          appCfg.HTTP.Locales,
			LoginPath:        appCfg.HTTP.LoginPath,
			UnauthorizedPath: appCfg.HTTP.UnauthorizedPath,
		},
		CookieDomain: appCfg.HTTP.CookieDomain,
		Gatherer:     svc.Observability.Gatherer(),
		Metrics:      svc.Observability.Auth,
		Ready:        ready,
		Logger:       logger,
	}
}

func readinessChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.Pinger {
	checks := make(map[string]httpx.Pinger, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

type httpHandlerConfig struct {
	Logger   *slog.Logger
	Services httpx.RouterServices
}

// Order: Recover -> Logging -> Router (gate inside).
func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	h := httpx.NewRouter(cfg.Services)
	h = httpx.Logging(cfg.Logger)(h)
	h = httpx.Recover(cfg.Logger)(h)
	return h
}

func startServer(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       orDefault(cfg.ReadTimeout, 15*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      orDefault(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       orDefault(cfg.IdleTimeout, 60*time.Second),
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	if err := cfg.Server.Shutdown(ctx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
