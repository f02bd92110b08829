package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	mockauth "github.com/lanterna/lanterna-api/internal/mocks/auth"
	"github.com/lanterna/lanterna-api/internal/service"
	"github.com/lanterna/lanterna-api/internal/util"
)

type stubLogin struct {
	result    *service.LoginResult
	err       error
	logoutErr error

	gotLogin  service.LoginInput
	gotLogout *service.LogoutInput
}

func (s *stubLogin) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	s.gotLogin = in
	return s.result, s.err
}

func (s *stubLogin) Logout(_ context.Context, in service.LogoutInput) error {
	s.gotLogout = &in
	return s.logoutErr
}

type authFixture struct {
	login    *stubLogin
	store    *mockauth.MemorySessionStore
	clock    *util.FixedClock
	handlers *AuthHandlers
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store := mockauth.NewMemorySessionStore()
	clock := util.NewFixedClock(gateNow)
	sm, err := service.NewSessionManager(service.SessionManagerOptions{
		Store:  store,
		Config: service.SessionManagerConfig{Duration: 8 * time.Hour, Clock: clock},
	})
	require.NoError(t, err)
	login := &stubLogin{}
	return &authFixture{
		login:    login,
		store:    store,
		clock:    clock,
		handlers: &AuthHandlers{Svc: login, Sessions: sm, Clock: clock},
	}
}

func (f *authFixture) seedSession(t *testing.T) domainauth.Session {
	t.Helper()
	sess := domainauth.Session{
		ID:           "s-1",
		PrincipalID:  "u-1",
		Email:        "chef@lanterna.example",
		Role:         domainauth.RoleAdmin,
		SessionStart: gateNow,
		LastActivity: gateNow,
		ExpiresAt:    gateNow.Add(8 * time.Hour),
		IsActive:     true,
	}
	require.NoError(t, f.store.CreateOrUpdate(context.Background(), sess))
	return sess
}

func successfulLogin() *service.LoginResult {
	p := domainauth.Principal{ID: "u-1", Email: "chef@lanterna.example"}
	return &service.LoginResult{
		Principal:       p,
		ProviderSession: domainauth.ProviderSession{Principal: p, AccessToken: "access-u-1"},
		Session:         domainauth.Session{ID: "s-new", PrincipalID: "u-1", ExpiresAt: time.Now().Add(8 * time.Hour), IsActive: true},
		IsAdmin:         true,
		Method:          domainauth.MethodDurableStore,
	}
}

func cookieValue(rec *httptest.ResponseRecorder, name string) (string, bool) {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAuthHandlers_LoginJSON(t *testing.T) {
	f := newAuthFixture(t)
	f.login.result = successfulLogin()

	req := jsonRequest(http.MethodPost, "/auth/login", `{"email":"chef@lanterna.example","password":"s3cret-pass"}`)
	req.Header.Set("User-Agent", "lanterna-test")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	f.handlers.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "s-new", body.SessionID)
	assert.True(t, body.IsAdmin)
	assert.Equal(t, domainauth.MethodDurableStore, body.Method)

	sid, ok := cookieValue(rec, SessionCookieName)
	assert.True(t, ok)
	assert.Equal(t, "s-new", sid)
	token, ok := cookieValue(rec, ProviderCookieName)
	assert.True(t, ok)
	assert.Equal(t, "access-u-1", token)

	assert.Equal(t, "chef@lanterna.example", f.login.gotLogin.Email)
	assert.Equal(t, "203.0.113.9", f.login.gotLogin.IPAddress)
	assert.Equal(t, "lanterna-test", f.login.gotLogin.UserAgent)
}

func TestAuthHandlers_LoginJSONErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid credentials",
			body:       `{"email":"chef@lanterna.example","password":"nope"}`,
			err:        domainauth.ErrInvalidCredentials,
			wantStatus: http.StatusUnauthorized,
			wantCode:   CodeInvalidCredentials,
		},
		{
			name:       "unknown field",
			body:       `{"email":"a@b.c","password":"x","admin":true}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidJSON,
		},
		{
			name:       "provider down",
			body:       `{"email":"chef@lanterna.example","password":"pw"}`,
			err:        errors.New("dial tcp: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.login.err = tt.err

			rec := httptest.NewRecorder()
			f.handlers.Login(rec, jsonRequest(http.MethodPost, "/auth/login", tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeErrorBody(t, rec).Code)
			_, ok := cookieValue(rec, SessionCookieName)
			assert.False(t, ok)
		})
	}
}

func TestAuthHandlers_LoginForm(t *testing.T) {
	t.Run("admin lands on the admin page", func(t *testing.T) {
		f := newAuthFixture(t)
		f.login.result = successfulLogin()

		rec := httptest.NewRecorder()
		f.handlers.Login(rec, formRequest("/auth/login", url.Values{"email": {"chef@lanterna.example"}, "password": {"pw"}}))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin", rec.Header().Get("Location"))
	})

	t.Run("redirect is honoured when relative", func(t *testing.T) {
		f := newAuthFixture(t)
		f.login.result = successfulLogin()

		rec := httptest.NewRecorder()
		f.handlers.Login(rec, formRequest("/auth/login", url.Values{
			"email": {"chef@lanterna.example"}, "password": {"pw"}, "redirect": {"/admin/rooms?page=2"},
		}))

		assert.Equal(t, "/admin/rooms?page=2", rec.Header().Get("Location"))
	})

	t.Run("absolute redirect is discarded", func(t *testing.T) {
		f := newAuthFixture(t)
		f.login.result = successfulLogin()

		rec := httptest.NewRecorder()
		f.handlers.Login(rec, formRequest("/auth/login", url.Values{
			"email": {"chef@lanterna.example"}, "password": {"pw"}, "redirect": {"https://evil.example/phish"},
		}))

		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("failure returns to the login form", func(t *testing.T) {
		f := newAuthFixture(t)
		f.login.err = domainauth.ErrInvalidCredentials

		rec := httptest.NewRecorder()
		f.handlers.Login(rec, formRequest("/auth/login", url.Values{"email": {"x@y.z"}, "password": {"pw"}}))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login?error=invalid_credentials", rec.Header().Get("Location"))
	})
}

func TestAuthHandlers_Logout(t *testing.T) {
	t.Run("json client", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedSession(t)

		req := jsonRequest(http.MethodPost, "/auth/logout", "")
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s-1"})
		req.AddCookie(&http.Cookie{Name: ProviderCookieName, Value: "access-u-1"})
		rec := httptest.NewRecorder()
		f.handlers.Logout(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.login.gotLogout)
		assert.Equal(t, "u-1", f.login.gotLogout.Principal.ID)
		assert.Equal(t, "s-1", f.login.gotLogout.SessionID)
		assert.Equal(t, "access-u-1", f.login.gotLogout.AccessToken)

		for _, c := range rec.Result().Cookies() {
			assert.Equal(t, -1, c.MaxAge, c.Name)
		}
	})

	t.Run("errors do not block the response", func(t *testing.T) {
		f := newAuthFixture(t)
		f.login.logoutErr = errors.New("provider sign out: 503")

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.Header.Set(HeaderProviderToken, "access-u-1")
		rec := httptest.NewRecorder()
		f.handlers.Logout(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login?message=signed_out", rec.Header().Get("Location"))
		require.NotNil(t, f.login.gotLogout)
		assert.Empty(t, f.login.gotLogout.Principal.ID)
	})

	t.Run("nothing to tear down", func(t *testing.T) {
		f := newAuthFixture(t)
		rec := httptest.NewRecorder()
		f.handlers.Logout(rec, jsonRequest(http.MethodPost, "/auth/logout", ""))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, f.login.gotLogout)
	})
}

func TestAuthHandlers_Status(t *testing.T) {
	t.Run("no cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		rec := httptest.NewRecorder()
		f.handlers.Status(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))

		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Authenticated)
		assert.Equal(t, string(domainauth.ReasonNoSession), body.Reason)
	})

	t.Run("active session", func(t *testing.T) {
		f := newAuthFixture(t)
		sess := f.seedSession(t)

		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s-1"})
		rec := httptest.NewRecorder()
		f.handlers.Status(rec, req)

		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Authenticated)
		require.NotNil(t, body.User)
		assert.Equal(t, "u-1", body.User.ID)
		require.NotNil(t, body.ExpiresAt)
		assert.True(t, sess.ExpiresAt.Equal(*body.ExpiresAt))
		assert.Equal(t, int64((8 * time.Hour).Seconds()), body.RemainingSeconds)
		assert.Nil(t, responseCookie(rec, SessionCookieName), "cookie untouched when nothing was extended")
	})

	t.Run("auto-extended session refreshes the cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedSession(t)
		f.clock.Advance(7*time.Hour + 50*time.Minute)

		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s-1"})
		rec := httptest.NewRecorder()
		f.handlers.Status(rec, req)

		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(domainauth.ReasonExtended), body.Reason)
		c := responseCookie(rec, SessionCookieName)
		require.NotNil(t, c)
		assert.Equal(t, "s-1", c.Value)
		assert.Equal(t, int((8 * time.Hour).Seconds()), c.MaxAge)
	})

	t.Run("expired session clears the cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedSession(t)
		f.clock.Advance(9 * time.Hour)

		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s-1"})
		rec := httptest.NewRecorder()
		f.handlers.Status(rec, req)

		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Authenticated)
		assert.Equal(t, string(domainauth.ReasonExpired), body.Reason)
		_, ok := cookieValue(rec, SessionCookieName)
		assert.True(t, ok)
	})
}

func TestAuthHandlers_Extend(t *testing.T) {
	t.Run("pushes expiry forward", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedSession(t)
		f.clock.Advance(2 * time.Hour)

		req := httptest.NewRequest(http.MethodPost, "/auth/session/extend", nil)
		req.Header.Set("Authorization", "Bearer s-1")
		rec := httptest.NewRecorder()
		f.handlers.Extend(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.ExpiresAt)
		assert.True(t, gateNow.Add(10*time.Hour).Equal(*body.ExpiresAt))
		assert.Equal(t, string(domainauth.ReasonExtended), body.Reason)
		assert.Equal(t, int64((8 * time.Hour).Seconds()), body.RemainingSeconds)
		assert.Nil(t, responseCookie(rec, SessionCookieName), "bearer clients get no cookie")
	})

	t.Run("re-issues the session cookie", func(t *testing.T) {
		f := newAuthFixture(t)
		f.seedSession(t)
		f.clock.Advance(2 * time.Hour)

		req := httptest.NewRequest(http.MethodPost, "/auth/session/extend", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s-1"})
		rec := httptest.NewRecorder()
		f.handlers.Extend(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		c := responseCookie(rec, SessionCookieName)
		require.NotNil(t, c, "Set-Cookie missing after extend")
		assert.Equal(t, "s-1", c.Value)
		assert.Equal(t, int((8 * time.Hour).Seconds()), c.MaxAge)
		assert.True(t, c.HttpOnly)
	})

	t.Run("no session", func(t *testing.T) {
		f := newAuthFixture(t)
		rec := httptest.NewRecorder()
		f.handlers.Extend(rec, httptest.NewRequest(http.MethodPost, "/auth/session/extend", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeNoSession, decodeErrorBody(t, rec).Code)
	})
}

func TestSafeRedirectPath(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/admin":               "/admin",
		"/admin?tab=rooms":     "/admin?tab=rooms",
		"https://evil.example": "/",
		"//evil.example/x":     "/",
		"relative/path":        "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeRedirectPath(in), in)
	}
}
