package auth

import "errors"

// Sentinel errors for the auth taxonomy. Adapters wrap these so callers can use errors.Is.
var (
	// ErrNoSession means no credential or session was presented.
	ErrNoSession = errors.New("no session")
	// ErrSessionNotFound means the session store holds no session for the key.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired means the session reached its expiry and was invalidated.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidCredentials means the provider rejected the email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccessDenied means a valid session belongs to a confirmed non-admin.
	ErrAccessDenied = errors.New("access denied")
	// ErrProfileNotFound means the durable store has no profile for the principal.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrDatabase covers durable-store transport and query failures.
	ErrDatabase = errors.New("database error")
	// ErrRLS means the durable store refused the query on privilege grounds.
	ErrRLS = errors.New("row level security violation")
	// ErrMiddleware is an unexpected failure inside the request gate.
	ErrMiddleware = errors.New("middleware error")
	// ErrAccountExists is returned when provisioning an account that already exists.
	ErrAccountExists = errors.New("account already exists")
	// ErrProvisioningUnsupported is returned by providers that cannot create accounts.
	ErrProvisioningUnsupported = errors.New("account provisioning not supported by provider")
)

// IsStoreError reports whether err is a durable-store failure recovered by the fallback layer.
func IsStoreError(err error) bool {
	return errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrDatabase) || errors.Is(err, ErrRLS)
}
