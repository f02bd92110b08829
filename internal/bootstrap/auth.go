package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/adapters/authroles"
	"github.com/lanterna/lanterna-api/internal/adapters/localauth"
	"github.com/lanterna/lanterna-api/internal/adapters/oidc"
	redisadapter "github.com/lanterna/lanterna-api/internal/adapters/redis"
	"github.com/lanterna/lanterna-api/internal/data"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/service"
	"github.com/lanterna/lanterna-api/internal/util"
)

// AuthConfig contains the dependencies for the auth component graph.
type AuthConfig struct {
	Auth        config.AuthConfig
	Reaper      config.ReaperConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	// SessionPrefix namespaces session keys; empty uses the adapter default.
	SessionPrefix string
	Metrics       *metrics.AuthMetrics
	Logger        *slog.Logger

	// Provider overrides the configured credential provider (tests, tooling).
	Provider ports.CredentialProvider
}

// AuthComponents is the wired auth core.
type AuthComponents struct {
	Provider ports.CredentialProvider
	Profiles *data.ProfileRepo
	Audit    *service.AuthLogger
	Cache    *service.AdminCache
	Verifier *service.AdminVerifier
	Sessions *service.SessionManager
	Login    *service.LoginService
	Reaper   *service.AuthReaper
}

// Close flushes the audit queue.
func (a *AuthComponents) Close() {
	if a != nil && a.Audit != nil {
		a.Audit.Close()
	}
}

// BuildAuth wires the credential provider, stores and auth services.
func BuildAuth(ctx context.Context, cfg AuthConfig) (*AuthComponents, error) {
	if cfg.DB == nil {
		return nil, errors.New("auth: database connection is required")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("auth: redis client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	profiles := data.NewProfileRepo(cfg.DB)
	retry := util.RetryPolicy{
		Attempts:  cfg.Auth.Retry.Attempts,
		BaseDelay: cfg.Auth.Retry.BaseDelay,
		MaxDelay:  cfg.Auth.Retry.MaxDelay,
	}

	provider := cfg.Provider
	if provider == nil {
		var err error
		if provider, err = buildProvider(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	audit, err := service.NewAuthLogger(service.AuthLoggerOptions{
		Store: data.NewAuditRepo(cfg.DB),
		Config: service.AuthLoggerConfig{
			Buffer:       cfg.Auth.AuditBuffer,
			StoreTimeout: cfg.Auth.StoreTimeout,
			Retention:    cfg.Reaper.AuditRetention,
		},
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("auth logger: %w", err)
	}
	comps := &AuthComponents{Provider: provider, Profiles: profiles, Audit: audit}

	if err := buildAuthServices(cfg, comps, retry, logger); err != nil {
		audit.Close()
		return nil, err
	}
	return comps, nil
}

func buildAuthServices(cfg AuthConfig, comps *AuthComponents, retry util.RetryPolicy, logger *slog.Logger) error {
	comps.Cache = service.NewAdminCache(service.AdminCacheOptions{
		DefaultTTL: cfg.Auth.AdminCacheTTL,
		Metrics:    cfg.Metrics,
	})

	var err error
	comps.Verifier, err = service.NewAdminVerifier(service.AdminVerifierOptions{
		Store: comps.Profiles,
		Cache: comps.Cache,
		Audit: comps.Audit,
		Config: service.AdminVerifierConfig{
			AdminEmail:   cfg.Auth.AdminEmail,
			StoreTimeout: cfg.Auth.StoreTimeout,
			CacheTTL:     cfg.Auth.AdminCacheTTL,
		},
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("admin verifier: %w", err)
	}

	store := redisadapter.NewSessionStore(cfg.RedisClient)
	if cfg.SessionPrefix != "" {
		store = redisadapter.NewSessionStoreWithPrefix(cfg.RedisClient, cfg.SessionPrefix)
	}
	comps.Sessions, err = service.NewSessionManager(service.SessionManagerOptions{
		Store: store,
		Config: service.SessionManagerConfig{
			Duration:        cfg.Auth.SessionDuration,
			ExtendThreshold: cfg.Auth.SessionExtendThreshold,
			Retry:           retry,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	comps.Login, err = service.NewLoginService(service.LoginServiceOptions{
		Deps: service.LoginServiceDeps{
			Provider: comps.Provider,
			Profiles: comps.Profiles,
			Verifier: comps.Verifier,
			Sessions: comps.Sessions,
			Roles: authroles.StaticRoleMapper{
				AdminGroup:     cfg.Auth.AdminGroup,
				ModeratorGroup: cfg.Auth.ModeratorGroup,
			},
			Audit: comps.Audit,
		},
		Retry:   retry,
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("login service: %w", err)
	}

	comps.Reaper, err = service.NewAuthReaper(service.AuthReaperOptions{
		Targets: service.AuthReaperTargets{
			Cache:    comps.Cache,
			Sessions: comps.Sessions,
			Audit:    comps.Audit,
		},
		Config:  cfg.Reaper,
		Logger:  logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("auth reaper: %w", err)
	}
	return nil
}

//nolint:ireturn // the provider is chosen by AUTH_MODE at runtime.
func buildProvider(ctx context.Context, cfg AuthConfig, logger *slog.Logger) (ports.CredentialProvider, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeOAuth:
		o := cfg.Auth.OAuth
		if o.DiscoveryURL == "" || o.ClientID == "" || o.ClientSecret == "" {
			logger.Warn("oauth mode selected but required config missing",
				"discovery_url_empty", o.DiscoveryURL == "",
				"client_id_empty", o.ClientID == "",
				"client_secret_empty", o.ClientSecret == "",
			)
			return nil, errors.New("auth: oauth mode requires discovery URL, client ID and client secret")
		}
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:      o.ClientID,
			ClientSecret:  o.ClientSecret,
			Scope:         o.Scope,
			DiscoveryURL:  o.DiscoveryURL,
			RevocationURL: o.RevocationURL,
			SignUpURL:     o.SignUpURL,
		})
		if err != nil {
			return nil, fmt.Errorf("auth: oidc provider: %w", err)
		}
		return prov, nil

	case config.AuthModeLocal, "":
		prov, err := localauth.NewProvider(data.NewCredentialRepo(cfg.DB), localauth.Config{
			SigningKey: []byte(cfg.Auth.Local.SigningKey),
			Issuer:     cfg.Auth.Local.Issuer,
			AccessTTL:  cfg.Auth.Local.AccessTTL,
			RefreshTTL: cfg.Auth.Local.RefreshTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		return prov, nil

	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.Auth.Mode)
	}
}
