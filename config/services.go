package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeReaper runs the admin-cache, session and audit sweeps.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ReaperConfig contains the auth reaper configuration.
type ReaperConfig struct {
	// Interval is the session-expiry sweep interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// CacheSweepInterval is how often expired admin-cache entries are evicted.
	CacheSweepInterval time.Duration `env:"REAPER_CACHE_SWEEP_INTERVAL" envDefault:"10m"`

	// AuditRetention is the maximum age of audit entries before deletion.
	AuditRetention time.Duration `env:"REAPER_AUDIT_RETENTION" envDefault:"720h"` // 30 days
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 30*time.Second {
		r.Interval = 30 * time.Second
	}
	if r.CacheSweepInterval < 30*time.Second {
		r.CacheSweepInterval = 30 * time.Second
	}
	if r.AuditRetention < 24*time.Hour {
		r.AuditRetention = 24 * time.Hour
	}
}
