package httpx

import (
	"html/template"
	"log/slog"
	"net/http"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}} · Lanterna</title></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}

{{define "login"}}{{template "head" .}}
<h1>Sign in</h1>
{{if .Message}}<p class="notice">{{.Message}}</p>{{end}}
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="post" action="/auth/login">
  <input type="hidden" name="redirect" value="{{.Redirect}}">
  <label>Email <input type="email" name="email" autocomplete="username" required></label>
  <label>Password <input type="password" name="password" autocomplete="current-password" required></label>
  <button type="submit">Sign in</button>
</form>
{{template "foot" .}}{{end}}

{{define "unauthorized"}}{{template "head" .}}
<h1>Access denied</h1>
<p>{{.Reason}}</p>
<form method="post" action="/auth/logout"><button type="submit">Sign out</button></form>
{{template "foot" .}}{{end}}

{{define "admin"}}{{template "head" .}}
<h1>Administration</h1>
<p>Signed in as {{.Email}} (verified by {{.Method}}).</p>
<form method="post" action="/auth/logout"><button type="submit">Sign out</button></form>
{{template "foot" .}}{{end}}
`))

type pageData struct {
	Title    string
	Message  string
	Error    string
	Redirect string
	Reason   string
	Email    string
	Method   string
}

var loginErrors = map[string]string{
	"invalid_credentials": "Invalid email or password.",
	"invalid_request":     "Please enter your email and password.",
	"middleware":          "We could not verify your session. Please sign in again.",
	"internal_error":      "Sign-in is temporarily unavailable.",
}

var loginMessages = map[string]string{
	"signed_out":      "You have been signed out.",
	"session_expired": "Your session expired. Please sign in again.",
	"idle_timeout":    "You were signed out after a period of inactivity.",
}

// Pages renders the minimal HTML pages around the gate.
type Pages struct {
	Logger *slog.Logger
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logger := slog.Default()
		if p != nil && p.Logger != nil {
			logger = p.Logger
		}
		logger.ErrorContext(r.Context(), "render page failed", "page", name, "error", err)
	}
}

// Login renders the sign-in form. GET /login.
func (p *Pages) Login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect := q.Get("redirect")
	if redirect != "" {
		redirect = safeRedirectPath(redirect)
	}
	p.render(w, r, http.StatusOK, "login", pageData{
		Title:    "Sign in",
		Message:  loginMessages[q.Get("message")],
		Error:    loginErrors[q.Get("error")],
		Redirect: redirect,
	})
}

// Unauthorized explains why the gate refused the request. GET /unauthorized.
func (p *Pages) Unauthorized(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason != reasonNotAdmin && reason != reasonUnverified {
		reason = reasonNotAdmin
	}
	p.render(w, r, http.StatusForbidden, "unauthorized", pageData{Title: "Access denied", Reason: reason})
}

// Admin is the landing page behind the gate. GET /admin.
func (p *Pages) Admin(w http.ResponseWriter, r *http.Request) {
	ac, ok := AdminFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	p.render(w, r, http.StatusOK, "admin", pageData{
		Title:  "Administration",
		Email:  ac.Principal.Email,
		Method: string(ac.Verification.Method),
	})
}
