package httpx

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
)

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					if IsBrowserRequest(r) {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
						return
					}
					WriteError(w, ErrorParams{Status: http.StatusInternalServerError, Code: CodeInternal})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders are attached to every response, whatever the auth outcome.
var securityHeaders = [...][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

func setSecurityHeaders(h http.Header) {
	for _, kv := range securityHeaders {
		h.Set(kv[0], kv[1])
	}
}

// SecurityHeaders returns a middleware that sets the security headers on every response.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setSecurityHeaders(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}

// IsBrowserRequest reports whether the client expects HTML rather than JSON:
// API routes never do, otherwise the Accept header decides and a missing
// header counts as a browser.
func IsBrowserRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "text/html")
}

// requestMeta extracts the client details recorded in audit entries.
func requestMeta(r *http.Request) domainauth.RequestMeta {
	return domainauth.RequestMeta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	// "//evil.example" parses as a path on some inputs; browsers treat it as a host.
	if strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return "/"
	}
	return candidate
}

// isSecureRequest reports whether the request arrived over TLS, directly or via a proxy.
func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// StripLocale removes a configured leading locale segment ("/fr/admin" -> "/admin")
// before routing.
func StripLocale(locales []string) func(http.Handler) http.Handler {
	set := localeSet(locales)
	return func(next http.Handler) http.Handler {
		if len(set) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale, path := splitLocale(r.URL.Path, set)
			if locale == "" {
				next.ServeHTTP(w, r)
				return
			}
			r2 := r.Clone(r.Context())
			r2.URL.Path = path
			r2.URL.RawPath = ""
			next.ServeHTTP(w, r2)
		})
	}
}

func localeSet(locales []string) map[string]struct{} {
	set := make(map[string]struct{}, len(locales))
	for _, l := range locales {
		if l = strings.ToLower(strings.Trim(strings.TrimSpace(l), "/")); l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}

// splitLocale returns the leading locale (empty when none) and the path without it.
func splitLocale(path string, locales map[string]struct{}) (string, string) {
	if len(locales) == 0 {
		return "", path
	}
	seg, tail, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if _, ok := locales[strings.ToLower(seg)]; !ok || seg == "" {
		return "", path
	}
	return seg, "/" + tail
}
