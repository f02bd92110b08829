// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.
package ports

import (
	"context"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
)

// SignInInput groups the credentials submitted at login.
type SignInInput struct {
	Email    string
	Password string
}

// CredentialProvider is the external source of truth for "who is this".
type CredentialProvider interface {
	// SignIn verifies credentials and returns the provider session. Wrong credentials
	// must wrap domainauth.ErrInvalidCredentials.
	SignIn(ctx context.Context, in SignInInput) (domainauth.ProviderSession, error)

	// SignUp provisions an account. Providers that cannot do so return
	// domainauth.ErrProvisioningUnsupported; existing accounts return domainauth.ErrAccountExists.
	SignUp(ctx context.Context, in SignInInput) (domainauth.Principal, error)

	// SignOut revokes the provider session behind accessToken.
	SignOut(ctx context.Context, accessToken string) error

	// GetSession resolves an access token into the provider session.
	GetSession(ctx context.Context, accessToken string) (domainauth.ProviderSession, error)

	// RefreshSession exchanges a refresh token for a new provider session.
	RefreshSession(ctx context.Context, refreshToken string) (domainauth.ProviderSession, error)
}

// ProfileStore is the durable profile/role store.
type ProfileStore interface {
	GetRole(ctx context.Context, principalID string) (domainauth.Role, error)
	GetProfile(ctx context.Context, principalID string) (*domainauth.Profile, error)
	// UpsertProfile creates the profile with role if absent; an existing role is left untouched.
	UpsertProfile(ctx context.Context, p domainauth.Principal, role domainauth.Role) (*domainauth.Profile, error)
	// CheckAdminRole runs the privileged server-side admin check.
	CheckAdminRole(ctx context.Context, principalID string) (domainauth.RoleCheck, error)
	// RecordLogin increments the login counter and stamps the last login time.
	RecordLogin(ctx context.Context, principalID string, at time.Time) error
	SetRole(ctx context.Context, principalID string, role domainauth.Role) error
}

// SessionStore persists application sessions. Each call is an atomic remote operation.
type SessionStore interface {
	// CreateOrUpdate stores sess as the principal's single active session, replacing any previous one.
	CreateOrUpdate(ctx context.Context, sess domainauth.Session) error
	// UpdateActivity stamps lastActivity and, when expiresAt is non-zero, moves the expiry.
	UpdateActivity(ctx context.Context, principalID string, lastActivity, expiresAt time.Time) error
	// Invalidate marks the session inactive. Either identifier may be empty, not both.
	Invalidate(ctx context.Context, principalID, sessionID string) error
	GetInfo(ctx context.Context, principalID string) (domainauth.Session, error)
	GetBySessionID(ctx context.Context, sessionID string) (domainauth.Session, error)
	// CleanExpired invalidates every session with expiresAt <= now and returns the count.
	CleanExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditStore persists the append-only auth log.
type AuditStore interface {
	Insert(ctx context.Context, e domainauth.LogEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Statistics(ctx context.Context, since time.Time) (domainauth.Statistics, error)
}

// CredentialStore keeps password hashes for the local provider.
type CredentialStore interface {
	Create(ctx context.Context, email, passwordHash string) (domainauth.Principal, error)
	GetByEmail(ctx context.Context, email string) (domainauth.Principal, string, error)
	GetByID(ctx context.Context, id string) (domainauth.Principal, error)
}

// RoleMapper maps provider groups to application roles.
type RoleMapper interface {
	Map(groups []string) domainauth.Role
}

// AuditLogger records auth events without blocking the caller.
type AuditLogger interface {
	Log(ctx context.Context, e domainauth.LogEntry)
}
