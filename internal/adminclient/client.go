package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	httpx "github.com/lanterna/lanterna-api/internal/http"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, msg)
}

// Is maps server error codes onto the auth sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case httpx.CodeNoSession:
		return target == domainauth.ErrNoSession
	case httpx.CodeInvalidCredentials:
		return target == domainauth.ErrInvalidCredentials
	case httpx.CodeAccessDenied:
		return target == domainauth.ErrAccessDenied
	case httpx.CodeMiddlewareError:
		return target == domainauth.ErrMiddleware
	}
	return false
}

// Options configures a Client.
type Options struct {
	BaseURL string        // Required, e.g. http://localhost:8080
	Timeout time.Duration // per request; default 15s
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client talks to the auth and admin endpoints. Credentials live only in the
// in-memory cookie jar, which ClearCredentials wipes.
type Client struct {
	base *url.URL
	opts Options

	mu   sync.RWMutex
	http *http.Client
}

// New builds a Client with an empty credential store.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	c := &Client{base: base, opts: opts}
	if err := c.resetJar(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) resetJar() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	hc := &http.Client{
		Jar:     jar,
		Timeout: c.opts.Timeout,
		// Redirects are answers in this API, not navigation.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	if c.opts.Transport != nil {
		hc.Transport = c.opts.Transport
	}
	c.mu.Lock()
	c.http = hc
	c.mu.Unlock()
	return nil
}

// ClearCredentials drops every stored cookie.
func (c *Client) ClearCredentials() {
	if err := c.resetJar(); err != nil {
		// cookiejar.New only fails on invalid options; keep the old jar but empty it.
		c.mu.Lock()
		c.http.Jar = nil
		c.mu.Unlock()
	}
}

// HasSession reports whether a session cookie is stored.
func (c *Client) HasSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.http.Jar == nil {
		return false
	}
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == httpx.SessionCookieName && ck.Value != "" {
			return true
		}
	}
	return false
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string { return c.base.String() }

// Login signs in and stores the session cookie.
func (c *Client) Login(ctx context.Context, email, password string) (httpx.LoginResponse, error) {
	var out httpx.LoginResponse
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/auth/login", body, &out)
	return out, err
}

// Logout ends the session server-side and clears local credentials either way.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.ClearCredentials()
	return err
}

// Status returns the server's view of the current session.
func (c *Client) Status(ctx context.Context) (httpx.StatusResponse, error) {
	var out httpx.StatusResponse
	err := c.do(ctx, http.MethodGet, "/auth/status", nil, &out)
	return out, err
}

// CheckValid reports whether the server still accepts the session.
func (c *Client) CheckValid(ctx context.Context) (bool, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Authenticated, nil
}

// Extend asks the server to push the session expiry forward.
func (c *Client) Extend(ctx context.Context) (httpx.StatusResponse, error) {
	var out httpx.StatusResponse
	err := c.do(ctx, http.MethodPost, "/auth/session/extend", nil, &out)
	return out, err
}

// Me returns the admitted admin.
func (c *Client) Me(ctx context.Context) (httpx.MeResponse, error) {
	var out httpx.MeResponse
	err := c.do(ctx, http.MethodGet, "/api/admin/me", nil, &out)
	return out, err
}

// Stats returns audit statistics for the last days.
func (c *Client) Stats(ctx context.Context, days int) (domainauth.Statistics, error) {
	var out domainauth.Statistics
	err := c.do(ctx, http.MethodGet, "/api/admin/auth/stats?days="+strconv.Itoa(days), nil, &out)
	return out, err
}

// ClearCache drops admin-cache entries on the server; no ids clears all.
func (c *Client) ClearCache(ctx context.Context, principalIDs ...string) error {
	var body any
	if len(principalIDs) > 0 {
		body = map[string][]string{"principal_ids": principalIDs}
	}
	return c.do(ctx, http.MethodPost, "/api/admin/cache/clear", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	target := c.base.ResolveReference(ref)
	target.Path = c.base.Path + ref.Path

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	hc := c.http
	c.mu.RUnlock()

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body httpx.ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil {
		apiErr.Code, apiErr.Message, apiErr.Reason = body.Code, body.Error, body.Reason
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if apiErr.Code == "" && resp.StatusCode == http.StatusSeeOther {
		apiErr.Code = httpx.CodeNoSession
	}
	return apiErr
}

// IsSessionLost reports whether err means the operator must sign in again.
func IsSessionLost(err error) bool {
	return errors.Is(err, domainauth.ErrNoSession) || errors.Is(err, domainauth.ErrAccessDenied)
}
