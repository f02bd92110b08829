package httpx

// Cookie and header names shared by the gate and the auth handlers.
const (
	SessionCookieName  = "session_id"
	ProviderCookieName = "provider_token"

	HeaderAdminVerified = "X-Admin-Verified"
	HeaderAdminMethod   = "X-Admin-Verification-Method"
	HeaderProviderToken = "X-Provider-Token"
)

// Error codes returned in the "code" field of JSON error bodies.
const (
	CodeNoSession          = "NO_SESSION"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeMiddlewareError    = "MIDDLEWARE_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

// Gate decisions, used as metric labels.
const (
	decisionPass      = "pass"
	decisionAllow     = "allow"
	decisionNoSession = "no_session"
	decisionDenied    = "denied"
	decisionError     = "error"
)

// routeKind distinguishes protected pages (redirects) from protected APIs (JSON).
type routeKind string

const (
	routePage routeKind = "page"
	routeAPI  routeKind = "api"
)

// Reasons shown on the unauthorized page and in ACCESS_DENIED bodies.
const (
	reasonNotAdmin   = "admin privileges required"
	reasonUnverified = "admin status could not be verified"
)

const (
	// defaultStatsDays is the window for /api/admin/auth/stats without ?days.
	defaultStatsDays = 7
	maxStatsDays     = 365

	// maxLoginBody bounds login request bodies.
	maxLoginBody = 1 << 16
)
