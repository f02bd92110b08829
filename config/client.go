package config

import (
	"strings"
	"time"
)

// ClientConfig controls the operator CLI's advisory session timeouts.
// The server remains the authority; these only drive proactive logout.
type ClientConfig struct {
	URL            string        `env:"URL"             envDefault:"http://localhost:8080"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT"    envDefault:"30m"`
	WarningBefore  time.Duration `env:"WARNING_BEFORE"  envDefault:"5m"`
	AbsoluteLimit  time.Duration `env:"ABSOLUTE_LIMIT"  envDefault:"8h"`
	CheckInterval  time.Duration `env:"CHECK_INTERVAL"  envDefault:"60s"`
	ExtendThrottle time.Duration `env:"EXTEND_THROTTLE" envDefault:"30s"`
}

// Sanitize applies guardrails to client timeout values.
func (c *ClientConfig) Sanitize() {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.WarningBefore <= 0 || c.WarningBefore >= c.IdleTimeout {
		c.WarningBefore = c.IdleTimeout / 6
	}
	if c.AbsoluteLimit < c.IdleTimeout {
		c.AbsoluteLimit = c.IdleTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.ExtendThrottle < 0 {
		c.ExtendThrottle = 0
	}
}
