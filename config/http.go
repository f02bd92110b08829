package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server and route gating configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// ProtectedPagePrefixes are admin page prefixes that require an admin session.
	ProtectedPagePrefixes []string `env:"HTTP_PROTECTED_PAGES" envDefault:"/admin" envSeparator:","`

	// ProtectedAPIPrefixes are admin API prefixes that require an admin session.
	ProtectedAPIPrefixes []string `env:"HTTP_PROTECTED_APIS" envDefault:"/api/admin" envSeparator:","`

	// StaticPrefixes are never inspected by the request gate.
	StaticPrefixes []string `env:"HTTP_STATIC_PREFIXES" envDefault:"/static/,/_next/,/favicon.ico,/images/" envSeparator:","`

	// Locales are optional leading path segments stripped before route matching.
	Locales []string `env:"HTTP_LOCALES" envDefault:"en,fr,it" envSeparator:","`

	LoginPath        string `env:"HTTP_LOGIN_PATH"        envDefault:"/login"`
	UnauthorizedPath string `env:"HTTP_UNAUTHORIZED_PATH" envDefault:"/unauthorized"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.ProtectedPagePrefixes = cleanPrefixes(h.ProtectedPagePrefixes)
	h.ProtectedAPIPrefixes = cleanPrefixes(h.ProtectedAPIPrefixes)
	h.StaticPrefixes = cleanPrefixes(h.StaticPrefixes)

	locales := h.Locales[:0]
	for _, l := range h.Locales {
		if l = strings.ToLower(strings.Trim(strings.TrimSpace(l), "/")); l != "" {
			locales = append(locales, l)
		}
	}
	h.Locales = locales

	if !strings.HasPrefix(h.LoginPath, "/") {
		h.LoginPath = "/login"
	}
	if !strings.HasPrefix(h.UnauthorizedPath, "/") {
		h.UnauthorizedPath = "/unauthorized"
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
}

func cleanPrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, p)
	}
	return out
}
