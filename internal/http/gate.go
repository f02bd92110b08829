package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

// SessionService is the part of service.SessionManager used by the HTTP layer.
type SessionService interface {
	Resolve(ctx context.Context, sessionID string) (domainauth.Session, error)
	Validate(ctx context.Context, principalID string) (domainauth.SessionValidity, error)
	Touch(ctx context.Context, principalID string, extend bool) error
	Revoke(ctx context.Context, sess domainauth.Session, reason string) error
}

// Verifier decides whether a principal is an admin.
type Verifier interface {
	Verify(ctx context.Context, p domainauth.Principal, meta domainauth.RequestMeta) domainauth.AdminVerification
}

// GateRoutes configures which paths the gate protects.
type GateRoutes struct {
	PagePrefixes     []string // default /admin
	APIPrefixes      []string // default /api/admin
	StaticPrefixes   []string // never inspected
	Locales          []string // optional leading segment, ignored for matching
	LoginPath        string   // default /login
	UnauthorizedPath string   // default /unauthorized
}

// GateOptions groups dependencies for Gate.
type GateOptions struct {
	Sessions     SessionService    // Required
	Verifier     Verifier          // Required
	Audit        ports.AuditLogger // Optional: access_denied entries
	Routes       GateRoutes
	CookieDomain string     // session cookie re-issued after an auto-extend
	Clock        util.Clock // Optional: defaults to system time
	Logger       *slog.Logger
	Metrics      *metrics.AuthMetrics
}

var errGateMisconfigured = errors.New("request gate is missing a session service or verifier")

type gate struct {
	sessions SessionService
	verifier Verifier
	audit    ports.AuditLogger
	routes   GateRoutes
	locales  map[string]struct{}
	domain   string
	clock    util.Clock
	logger   *slog.Logger
	metrics  *metrics.AuthMetrics
}

// Gate returns the middleware guarding admin pages and admin APIs.
//
// Security headers are set on every response. Paths outside the protected
// prefixes pass through before any I/O. Protected requests need an active
// session whose principal the verifier confirms as admin; anything else is
// answered with a redirect (pages) or a JSON error (APIs). Internal failures,
// including a misconfigured gate, fail closed.
func Gate(opts GateOptions) func(http.Handler) http.Handler {
	g := &gate{
		sessions: opts.Sessions,
		verifier: opts.Verifier,
		audit:    opts.Audit,
		routes:   opts.Routes,
		metrics:  opts.Metrics,
		locales:  localeSet(opts.Routes.Locales),
		domain:   opts.CookieDomain,
		clock:    util.OrSystem(opts.Clock),
	}
	if len(g.routes.PagePrefixes) == 0 && len(g.routes.APIPrefixes) == 0 {
		g.routes.PagePrefixes = []string{"/admin"}
		g.routes.APIPrefixes = []string{"/api/admin"}
	}
	if g.routes.LoginPath == "" {
		g.routes.LoginPath = "/login"
	}
	if g.routes.UnauthorizedPath == "" {
		g.routes.UnauthorizedPath = "/unauthorized"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g.logger = logger.With("component", "request_gate")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setSecurityHeaders(w.Header())

			locale, path := splitLocale(r.URL.Path, g.locales)
			kind, protected := g.classify(path)
			if !protected {
				next.ServeHTTP(w, r)
				return
			}

			ac, extended, err := g.admitSafely(r)
			switch {
			case err == nil:
				g.metrics.GateDecision(string(kind), decisionAllow)
				if extended && fromSessionCookie(r) {
					writeCookie(w, r, g.domain, SessionCookieName, ac.Session.ID, ac.Session.Remaining(g.clock.Now()))
				}
				w.Header().Set(HeaderAdminVerified, "true")
				w.Header().Set(HeaderAdminMethod, string(ac.Verification.Method))
				next.ServeHTTP(w, r.WithContext(WithAdminContext(r.Context(), ac)))
			case errors.Is(err, domainauth.ErrNoSession):
				g.metrics.GateDecision(string(kind), decisionNoSession)
				g.noSession(w, r, kind, locale)
			case errors.Is(err, domainauth.ErrAccessDenied):
				g.metrics.GateDecision(string(kind), decisionDenied)
				g.deny(w, r, kind, locale, ac)
			default:
				g.metrics.GateDecision(string(kind), decisionError)
				g.fail(w, r, kind, locale, err)
			}
		})
	}
}

func (g *gate) classify(path string) (routeKind, bool) {
	for _, p := range g.routes.StaticPrefixes {
		if matchPrefix(path, p) {
			return "", false
		}
	}
	for _, p := range g.routes.APIPrefixes {
		if matchPrefix(path, p) {
			return routeAPI, true
		}
	}
	for _, p := range g.routes.PagePrefixes {
		if matchPrefix(path, p) {
			return routePage, true
		}
	}
	return "", false
}

func matchPrefix(path, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// admitSafely turns a panic during admission into an error.
func (g *gate) admitSafely(r *http.Request) (ac AdminContext, extended bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", domainauth.ErrMiddleware, rec)
		}
	}()
	return g.admit(r.Context(), sessionToken(r), requestMeta(r))
}

// admit reports whether the session was auto-extended so the caller can
// refresh the cookie.
func (g *gate) admit(ctx context.Context, token string, meta domainauth.RequestMeta) (AdminContext, bool, error) {
	if g.sessions == nil || g.verifier == nil {
		return AdminContext{}, false, errGateMisconfigured
	}
	if token == "" {
		return AdminContext{}, false, domainauth.ErrNoSession
	}

	sess, err := g.sessions.Resolve(ctx, token)
	if errors.Is(err, domainauth.ErrSessionNotFound) || errors.Is(err, domainauth.ErrNoSession) {
		return AdminContext{}, false, fmt.Errorf("%w: unknown session", domainauth.ErrNoSession)
	}
	if err != nil {
		return AdminContext{}, false, fmt.Errorf("resolve session: %w", err)
	}

	validity, err := g.sessions.Validate(ctx, sess.PrincipalID)
	if err != nil {
		return AdminContext{}, false, fmt.Errorf("validate session: %w", err)
	}
	if !validity.Valid || validity.Session == nil || validity.Session.ID != sess.ID {
		return AdminContext{}, false, fmt.Errorf("%w: %s", domainauth.ErrNoSession, validity.Reason)
	}
	sess = *validity.Session
	extended := validity.Reason == domainauth.ReasonExtended

	p := domainauth.Principal{ID: sess.PrincipalID, Email: sess.Email, Role: sess.Role}
	ver := g.verifier.Verify(ctx, p, meta)
	ac := AdminContext{Session: sess, Principal: p, Verification: ver}
	if !ver.IsAdmin {
		return ac, extended, domainauth.ErrAccessDenied
	}
	return ac, extended, nil
}

func fromSessionCookie(r *http.Request) bool {
	c, err := r.Cookie(SessionCookieName)
	return err == nil && c.Value != ""
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func (g *gate) noSession(w http.ResponseWriter, r *http.Request, kind routeKind, locale string) {
	if kind == routeAPI {
		WriteError(w, ErrorParams{Status: http.StatusUnauthorized, Code: CodeNoSession, Message: "authentication required"})
		return
	}
	q := url.Values{}
	q.Set("redirect", safeRedirectPath(r.URL.RequestURI()))
	http.Redirect(w, r, localized(locale, g.routes.LoginPath)+"?"+q.Encode(), http.StatusSeeOther)
}

func (g *gate) deny(w http.ResponseWriter, r *http.Request, kind routeKind, locale string, ac AdminContext) {
	ctx := r.Context()
	reason := reasonNotAdmin
	if ac.Verification.Degraded() {
		reason = reasonUnverified
	}

	if g.audit != nil {
		g.audit.Log(ctx, domainauth.LogEntry{
			UserID:    ac.Principal.ID,
			Email:     ac.Principal.Email,
			Action:    domainauth.ActionAccessDenied,
			Method:    string(ac.Verification.Method),
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Error:     reason,
		})
	}

	// An admin session whose holder is conclusively no longer admin is revoked.
	// A degraded answer is not conclusive.
	if ac.Session.Role == domainauth.RoleAdmin && !ac.Verification.Degraded() {
		if err := g.sessions.Revoke(ctx, ac.Session, "admin role withdrawn"); err != nil {
			g.logger.WarnContext(ctx, "failed to revoke session", "user_id", ac.Principal.ID, "error", err)
		}
	}

	if kind == routeAPI {
		WriteError(w, ErrorParams{Status: http.StatusForbidden, Code: CodeAccessDenied, Message: "access denied", Reason: reason})
		return
	}
	q := url.Values{}
	q.Set("reason", reason)
	http.Redirect(w, r, localized(locale, g.routes.UnauthorizedPath)+"?"+q.Encode(), http.StatusSeeOther)
}

func (g *gate) fail(w http.ResponseWriter, r *http.Request, kind routeKind, locale string, err error) {
	g.logger.ErrorContext(r.Context(), "request gate failed closed",
		"path", r.URL.Path,
		"route", string(kind),
		"error", err,
	)
	if kind == routeAPI {
		WriteError(w, ErrorParams{Status: http.StatusInternalServerError, Code: CodeMiddlewareError, Message: "authorization check failed"})
		return
	}
	http.Redirect(w, r, localized(locale, g.routes.LoginPath)+"?error=middleware", http.StatusSeeOther)
}

func localized(locale, path string) string {
	if locale == "" {
		return path
	}
	return "/" + locale + path
}
