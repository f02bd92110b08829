package httpx

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/service"
	"github.com/lanterna/lanterna-api/internal/util"
)

// LoginService is the part of service.LoginService used by the auth handlers.
type LoginService interface {
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	Logout(ctx context.Context, in service.LogoutInput) error
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc          LoginService
	Sessions     SessionService
	CookieDomain string
	LoginPath    string     // browser logout lands here; default /login
	Clock        util.Clock // cookie lifetimes and remaining time; defaults to system time
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) now() time.Time {
	return util.OrSystem(h.Clock).Now()
}

func (h *AuthHandlers) loginPath() string {
	if h.LoginPath != "" {
		return h.LoginPath
	}
	return "/login"
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect,omitempty"`
}

// LoginResponse is returned by POST /auth/login for JSON clients.
type LoginResponse struct {
	User      domainauth.Principal          `json:"user"`
	SessionID string                        `json:"session_id"`
	ExpiresAt time.Time                     `json:"expires_at"`
	IsAdmin   bool                          `json:"is_admin"`
	Method    domainauth.VerificationMethod `json:"method"`
}

// Login authenticates the submitted credentials.
// POST /auth/login with a JSON body or an urlencoded form.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	form := isFormPost(r)
	var req loginRequest
	if form {
		if err := r.ParseForm(); err != nil {
			h.loginFailed(w, r, form, "", apperrors.Validation("invalid form body"))
			return
		}
		req = loginRequest{Email: r.PostFormValue("email"), Password: r.PostFormValue("password"), Redirect: r.PostFormValue("redirect")}
	} else if !DecodeJSON(w, r, &req) {
		return
	}

	meta := requestMeta(r)
	res, err := h.Svc.Login(r.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	if err != nil {
		h.loginFailed(w, r, form, req.Redirect, err)
		return
	}

	h.setSessionCookie(w, r, res.Session)
	if res.ProviderSession.AccessToken != "" {
		h.setCookie(w, r, ProviderCookieName, res.ProviderSession.AccessToken, res.Session.ExpiresAt)
	}

	if form {
		dest := "/"
		if res.IsAdmin {
			dest = "/admin"
		}
		if req.Redirect != "" {
			dest = safeRedirectPath(req.Redirect)
		}
		http.Redirect(w, r, dest, http.StatusSeeOther)
		return
	}

	WriteJSON(w, http.StatusOK, LoginResponse{
		User:      res.Principal,
		SessionID: res.Session.ID,
		ExpiresAt: res.Session.ExpiresAt,
		IsAdmin:   res.IsAdmin,
		Method:    res.Method,
	})
}

func (h *AuthHandlers) loginFailed(w http.ResponseWriter, r *http.Request, form bool, redirect string, err error) {
	status, code := loginErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), "login failed", "error", err)
	}

	if form {
		q := url.Values{}
		q.Set("error", strings.ToLower(code))
		if redirect != "" {
			q.Set("redirect", safeRedirectPath(redirect))
		}
		http.Redirect(w, r, h.loginPath()+"?"+q.Encode(), http.StatusSeeOther)
		return
	}

	msg := "login failed"
	if status == http.StatusUnauthorized {
		msg = "invalid email or password"
	}
	WriteError(w, ErrorParams{Status: status, Code: code, Message: msg})
}

func loginErrorStatus(err error) (int, string) {
	switch apperrors.Classify(err) {
	case apperrors.ErrCodeInvalidCredentials, apperrors.ErrCodeNoSession:
		return http.StatusUnauthorized, CodeInvalidCredentials
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, CodeInvalidRequest
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func isFormPost(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// Logout tears down the session and the provider session.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := requestMeta(r)
	in := service.LogoutInput{
		SessionID:   sessionToken(r),
		AccessToken: providerToken(r),
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	}
	if in.SessionID != "" && h.Sessions != nil {
		if sess, err := h.Sessions.Resolve(ctx, in.SessionID); err == nil {
			in.Principal = domainauth.Principal{ID: sess.PrincipalID, Email: sess.Email, Role: sess.Role}
		}
	}

	if in.SessionID != "" || in.AccessToken != "" {
		if err := h.Svc.Logout(ctx, in); err != nil {
			h.logger().WarnContext(ctx, "logout failed", "error", err)
		}
	}

	h.clearCookie(w, r, SessionCookieName)
	h.clearCookie(w, r, ProviderCookieName)

	if IsBrowserRequest(r) && !strings.Contains(r.Header.Get("Accept"), "application/json") {
		http.Redirect(w, r, h.loginPath()+"?message=signed_out", http.StatusSeeOther)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func providerToken(r *http.Request) string {
	if c, err := r.Cookie(ProviderCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.Header.Get(HeaderProviderToken))
}

// StatusResponse answers GET /auth/status.
type StatusResponse struct {
	Authenticated    bool                  `json:"authenticated"`
	Reason           string                `json:"reason,omitempty"`
	User             *domainauth.Principal `json:"user,omitempty"`
	ExpiresAt        *time.Time            `json:"expires_at,omitempty"`
	RemainingSeconds int64                 `json:"remaining_seconds,omitempty"`
}

// Status reports whether the caller's session is still valid.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	sess, reason, err := h.currentSession(r)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "session status check failed", "error", err)
		WriteError(w, ErrorParams{Status: http.StatusInternalServerError, Code: CodeInternal})
		return
	}
	if sess == nil {
		if _, cerr := r.Cookie(SessionCookieName); cerr == nil {
			h.clearCookie(w, r, SessionCookieName)
		}
		WriteJSON(w, http.StatusOK, StatusResponse{Reason: reason})
		return
	}
	if reason == string(domainauth.ReasonExtended) {
		h.refreshSessionCookie(w, r, *sess)
	}
	WriteJSON(w, http.StatusOK, statusFor(*sess, reason, h.now()))
}

// Extend pushes the session expiry forward.
// POST /auth/session/extend.
func (h *AuthHandlers) Extend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, _, err := h.currentSession(r)
	if err != nil {
		h.logger().ErrorContext(ctx, "session extend lookup failed", "error", err)
		WriteError(w, ErrorParams{Status: http.StatusInternalServerError, Code: CodeInternal})
		return
	}
	if sess == nil {
		WriteError(w, ErrorParams{Status: http.StatusUnauthorized, Code: CodeNoSession, Message: "no active session"})
		return
	}

	if err := h.Sessions.Touch(ctx, sess.PrincipalID, true); err != nil {
		if errors.Is(err, domainauth.ErrSessionExpired) || errors.Is(err, domainauth.ErrSessionNotFound) {
			WriteError(w, ErrorParams{Status: http.StatusUnauthorized, Code: CodeNoSession, Message: "no active session"})
			return
		}
		h.logger().ErrorContext(ctx, "session extend failed", "user_id", sess.PrincipalID, "error", err)
		WriteError(w, ErrorParams{Status: http.StatusInternalServerError, Code: CodeInternal})
		return
	}

	sess, reason, err := h.currentSession(r)
	if err != nil || sess == nil {
		WriteError(w, ErrorParams{Status: http.StatusUnauthorized, Code: CodeNoSession, Message: "no active session"})
		return
	}
	if reason == "" {
		reason = string(domainauth.ReasonExtended)
	}
	h.refreshSessionCookie(w, r, *sess)
	WriteJSON(w, http.StatusOK, statusFor(*sess, reason, h.now()))
}

// currentSession resolves and validates the caller's session. A nil session
// with a nil error means there is no usable session; reason says why.
func (h *AuthHandlers) currentSession(r *http.Request) (*domainauth.Session, string, error) {
	token := sessionToken(r)
	if token == "" || h.Sessions == nil {
		return nil, string(domainauth.ReasonNoSession), nil
	}
	ctx := r.Context()
	sess, err := h.Sessions.Resolve(ctx, token)
	if errors.Is(err, domainauth.ErrSessionNotFound) || errors.Is(err, domainauth.ErrNoSession) {
		return nil, string(domainauth.ReasonNoSession), nil
	}
	if err != nil {
		return nil, "", err
	}
	v, err := h.Sessions.Validate(ctx, sess.PrincipalID)
	if err != nil {
		return nil, "", err
	}
	if !v.Valid || v.Session == nil || v.Session.ID != token {
		reason := string(v.Reason)
		if reason == "" {
			reason = string(domainauth.ReasonInactive)
		}
		return nil, reason, nil
	}
	return v.Session, string(v.Reason), nil
}

func statusFor(sess domainauth.Session, reason string, now time.Time) StatusResponse {
	expires := sess.ExpiresAt
	return StatusResponse{
		Authenticated:    true,
		Reason:           reason,
		User:             &domainauth.Principal{ID: sess.PrincipalID, Email: sess.Email, Role: sess.Role},
		ExpiresAt:        &expires,
		RemainingSeconds: int64(sess.Remaining(now).Seconds()),
	}
}

// setSessionCookie writes the session cookie based on the session's expiry.
func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, r *http.Request, s domainauth.Session) {
	h.setCookie(w, r, SessionCookieName, s.ID, s.ExpiresAt)
}

// refreshSessionCookie re-issues the session cookie after the expiry moved.
// Bearer clients hold the token themselves and get no cookie.
func (h *AuthHandlers) refreshSessionCookie(w http.ResponseWriter, r *http.Request, s domainauth.Session) {
	if fromSessionCookie(r) {
		h.setSessionCookie(w, r, s)
	}
}

func (h *AuthHandlers) setCookie(w http.ResponseWriter, r *http.Request, name, value string, expires time.Time) {
	writeCookie(w, r, h.CookieDomain, name, value, expires.Sub(h.now()))
}

func writeCookie(w http.ResponseWriter, r *http.Request, domain, name, value string, lifetime time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   max(int(lifetime.Seconds()), 1),
	})
}

// clearCookie clears a cookie by setting it to expire immediately.
// It mirrors key attributes (Secure, Path, Domain, SameSite) used when setting cookies
// to maximize compatibility across browsers during deletion.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}
