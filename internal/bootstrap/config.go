package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lanterna/lanterna-api/config"
)

// InitLogger initializes the structured logger at the given level.
func InitLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and
// that the selected auth mode has what it needs.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	switch cfg.Auth.Mode {
	case config.AuthModeLocal:
		if len(cfg.Auth.Local.SigningKey) < 32 {
			return errors.New("LOCAL_AUTH_SIGNING_KEY must be at least 32 bytes in local mode")
		}
	case config.AuthModeOAuth:
		o := cfg.Auth.OAuth
		if o.DiscoveryURL == "" || o.ClientID == "" || o.ClientSecret == "" {
			return errors.New("oauth mode requires OAUTH_DISCOVERY_URL, OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET")
		}
	}
	return nil
}

// GetEnabledServices returns a sorted list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabled := make([]string, 0, len(services))
	for svc := range services {
		enabled = append(enabled, string(svc))
	}
	sort.Strings(enabled)
	return enabled
}
