package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the credential provider backing logins.
type AuthMode string

const (
	// AuthModeOAuth verifies credentials against an external OIDC identity provider.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeLocal verifies credentials against the local credentials table.
	AuthModeLocal AuthMode = "local"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oauth", "local":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, local)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration for the password grant.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email groups"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	// RevocationURL is called on sign-out when set (RFC 7009).
	RevocationURL string `env:"REVOCATION_URL"`
	// SignUpURL is the provider's registration endpoint used to provision the operator account.
	SignUpURL string `env:"SIGNUP_URL"`
}

// LocalAuthConfig controls the Postgres-backed credential provider.
type LocalAuthConfig struct {
	// SigningKey signs access and refresh tokens (HS256). Required in local mode.
	SigningKey string        `env:"SIGNING_KEY"`
	Issuer     string        `env:"ISSUER"      envDefault:"lanterna"`
	AccessTTL  time.Duration `env:"ACCESS_TTL"  envDefault:"1h"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
}

// RetryConfig bounds exponential backoff for durable writes.
type RetryConfig struct {
	Attempts  int           `env:"ATTEMPTS"   envDefault:"3"`
	BaseDelay time.Duration `env:"BASE_DELAY" envDefault:"1s"`
	MaxDelay  time.Duration `env:"MAX_DELAY"  envDefault:"10s"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which credential provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"local"`

	// AdminEmail is the distinguished operator address. It always resolves to admin.
	AdminEmail string `env:"ADMIN_EMAIL,required"`

	// AdminGroup and ModeratorGroup map IdP groups to roles for newly provisioned profiles.
	AdminGroup     string `env:"ADMIN_GROUP"`
	ModeratorGroup string `env:"MODERATOR_GROUP"`

	// AdminCacheTTL is the lifetime of a cached admin verification.
	AdminCacheTTL time.Duration `env:"ADMIN_CACHE_TTL" envDefault:"5m"`

	// SessionDuration is the lifetime of a new or extended session.
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"8h"`

	// SessionExtendThreshold triggers automatic extension when remaining life drops below it.
	SessionExtendThreshold time.Duration `env:"SESSION_EXTEND_THRESHOLD" envDefault:"30m"`

	// StoreTimeout bounds every durable-store call; a timeout counts as a store failure.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"8s"`

	// AuditBuffer is the number of audit entries queued before falling back to the console.
	AuditBuffer int `env:"AUDIT_BUFFER" envDefault:"256"`

	Retry RetryConfig `envPrefix:"RETRY_"`

	OAuth OAuthConfig     `envPrefix:"OAUTH_"`
	Local LocalAuthConfig `envPrefix:"LOCAL_AUTH_"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.AdminEmail = strings.ToLower(strings.TrimSpace(a.AdminEmail))
	if a.Mode == "" {
		a.Mode = AuthModeLocal
	}
	if a.AdminCacheTTL <= 0 {
		a.AdminCacheTTL = 5 * time.Minute
	}
	if a.SessionDuration <= 0 {
		a.SessionDuration = 8 * time.Hour
	}
	if a.SessionExtendThreshold <= 0 || a.SessionExtendThreshold >= a.SessionDuration {
		a.SessionExtendThreshold = 30 * time.Minute
	}
	if a.StoreTimeout <= 0 {
		a.StoreTimeout = 8 * time.Second
	}
	if a.AuditBuffer < 1 {
		a.AuditBuffer = 1
	}
	if a.Retry.Attempts < 1 {
		a.Retry.Attempts = 1
	}
	if a.Retry.Attempts > 10 {
		a.Retry.Attempts = 10
	}
	if a.Retry.BaseDelay <= 0 {
		a.Retry.BaseDelay = time.Second
	}
	if a.Retry.MaxDelay < a.Retry.BaseDelay {
		a.Retry.MaxDelay = a.Retry.BaseDelay
	}
	if a.Local.AccessTTL <= 0 {
		a.Local.AccessTTL = time.Hour
	}
	if a.Local.RefreshTTL < a.Local.AccessTTL {
		a.Local.RefreshTTL = a.Local.AccessTTL
	}
}
