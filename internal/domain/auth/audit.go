package auth

import "time"

// Action is the kind of event recorded in the audit trail.
type Action string

const (
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionAdminCheck   Action = "admin_check"
	ActionAccessDenied Action = "access_denied"
)

// LogEntry is an immutable audit record. Entries are append-only.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Action    Action    `json:"action"`
	Method    string    `json:"method,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// RequestMeta carries client details attached to audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// ActionStats aggregates audit entries for one action.
type ActionStats struct {
	Action   Action `json:"action"`
	Total    int64  `json:"total"`
	Failures int64  `json:"failures"`
}

// Statistics summarises the audit trail over a window of days.
type Statistics struct {
	Since            time.Time     `json:"since"`
	Days             int           `json:"days"`
	Actions          []ActionStats `json:"actions"`
	UniquePrincipals int64         `json:"unique_principals"`
	FallbackChecks   int64         `json:"fallback_checks"`
}
