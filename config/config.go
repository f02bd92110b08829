package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Authentication, session and admin-cache configuration
//   - database.go: Postgres and Redis configuration
//   - http.go: HTTP server and route gating configuration
//   - services.go: Service mode and sweeper configuration
//   - client.go: Operator CLI session timeouts
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Authentication configuration
	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,reaper"`

	// Reaper configuration (cache, session and audit sweeps)
	Reaper ReaperConfig

	// Operator CLI configuration
	Client ClientConfig `envPrefix:"LANTERNA_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Auth.Sanitize()
	c.HTTP.Sanitize()
	c.Reaper.Sanitize()
	c.Client.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks APP_ENV as a fallback for DEV.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsReaperEnabled returns true if the auth reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
