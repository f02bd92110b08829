// Package auth contains domain-level types for authentication, admin verification and sessions.
// It is pure and free of framework/adapter concerns.
package auth

import (
	"strings"
	"time"
)

// Role represents an application's authorization role.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	default:
		return false
	}
}

// ParseRole normalises s into a Role, defaulting to RoleUser for unknown values.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleUser
	}
	return r
}

// Principal is the authenticated actor returned by the credential provider.
// The core never mutates it.
type Principal struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Role   Role     `json:"role,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// NormalizeEmail lowercases and trims an email for identity comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProviderSession is the credential provider's own session for a principal.
// Its expiry is independent of the application Session.
type ProviderSession struct {
	Principal    Principal `json:"principal"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Profile is the durable-store snapshot of a principal.
type Profile struct {
	ID          string     `json:"id"           db:"id"`
	Email       string     `json:"email"        db:"email"`
	FullName    string     `json:"full_name"    db:"full_name"`
	Role        Role       `json:"role"         db:"role"`
	LoginCount  int64      `json:"login_count"  db:"login_count"`
	LastLoginAt *time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"   db:"updated_at"`
}

// RoleCheck is the result of the server-side admin role check.
type RoleCheck struct {
	IsAdmin bool
	Profile *Profile
}

// VerificationMethod records how an admin decision was reached.
type VerificationMethod string

const (
	MethodIdentityShortcut VerificationMethod = "identity-shortcut"
	MethodCache            VerificationMethod = "cache"
	MethodDurableStore     VerificationMethod = "durable-store"
	MethodFallback         VerificationMethod = "fallback"
)

// AdminVerification is the output of one verification attempt.
// Method is always set; Error is only set for fallback results.
type AdminVerification struct {
	IsAdmin bool               `json:"is_admin"`
	Method  VerificationMethod `json:"method"`
	Profile *Profile           `json:"profile,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Degraded reports whether the decision was made without the durable store.
func (v AdminVerification) Degraded() bool { return v.Method == MethodFallback }

// CacheEntry is an admin verification cached for a principal.
type CacheEntry struct {
	IsAdmin   bool
	Profile   *Profile
	Timestamp time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is logically absent at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) >= e.TTL
}

// Session is the server-side record of one authenticated browsing session.
// ID is an opaque session identifier handed to the client.
type Session struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	SessionStart time.Time `json:"session_start"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsActive     bool      `json:"is_active"`
}

// ExpiredAt reports whether the session can no longer be used at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Remaining returns the session lifetime left at now (zero when expired).
func (s Session) Remaining(now time.Time) time.Duration {
	if s.ExpiredAt(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// ValidityReason explains a session validity decision.
type ValidityReason string

const (
	ReasonNone      ValidityReason = ""
	ReasonNoSession ValidityReason = "no session"
	ReasonExpired   ValidityReason = "expired"
	ReasonExtended  ValidityReason = "extended"
	ReasonInactive  ValidityReason = "inactive"
)

// SessionValidity is the answer to "is this session still valid".
type SessionValidity struct {
	Valid   bool           `json:"valid"`
	Session *Session       `json:"session,omitempty"`
	Reason  ValidityReason `json:"reason,omitempty"`
}
