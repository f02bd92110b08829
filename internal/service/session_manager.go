package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

// SessionManagerConfig holds session lifetime settings.
type SessionManagerConfig struct {
	Duration        time.Duration    // default lifetime (8h)
	ExtendThreshold time.Duration    // auto-extend when less than this remains (30m)
	Retry           util.RetryPolicy // applied to Create only
	Clock           util.Clock
}

// SessionManagerOptions groups dependencies for SessionManager.
type SessionManagerOptions struct {
	Store  ports.SessionStore   // Required: session persistence
	Config SessionManagerConfig // Optional: defaults applied
	Logger *slog.Logger         // Optional
}

// SessionManager owns the server-side session lifecycle. A session moves from
// active to invalid exactly once; an invalid session is never revived.
type SessionManager struct {
	store  ports.SessionStore
	cfg    SessionManagerConfig
	logger *slog.Logger
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(opts SessionManagerOptions) (*SessionManager, error) {
	if opts.Store == nil {
		return nil, errors.New("SessionStore is required")
	}
	cfg := opts.Config
	if cfg.Duration <= 0 {
		cfg.Duration = 8 * time.Hour
	}
	if cfg.ExtendThreshold <= 0 || cfg.ExtendThreshold >= cfg.Duration {
		cfg.ExtendThreshold = min(30*time.Minute, cfg.Duration/2)
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = util.DefaultRetryPolicy
	}
	cfg.Clock = util.OrSystem(cfg.Clock)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{store: opts.Store, cfg: cfg, logger: logger.With("component", "session_manager")}, nil
}

// Duration returns the configured session lifetime.
func (m *SessionManager) Duration() time.Duration { return m.cfg.Duration }

// CreateSessionInput groups the fields recorded on a new session.
type CreateSessionInput struct {
	PrincipalID string
	Email       string
	Role        domainauth.Role
	IPAddress   string
	UserAgent   string
	Duration    time.Duration // 0 = configured default
}

// Create persists a new session, replacing any previous one for the principal.
// The write is retried with backoff.
func (m *SessionManager) Create(ctx context.Context, in CreateSessionInput) (domainauth.Session, error) {
	if in.PrincipalID == "" {
		return domainauth.Session{}, apperrors.ValidationField("principal_id", "principal id is required")
	}
	dur := in.Duration
	if dur <= 0 {
		dur = m.cfg.Duration
	}
	now := m.cfg.Clock.Now()
	sess := domainauth.Session{
		ID:           uuid.NewString(),
		PrincipalID:  in.PrincipalID,
		Email:        domainauth.NormalizeEmail(in.Email),
		Role:         in.Role,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		SessionStart: now,
		LastActivity: now,
		ExpiresAt:    now.Add(dur),
		IsActive:     true,
	}

	err := util.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		return m.store.CreateOrUpdate(ctx, sess)
	})
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("create session: %w", err)
	}
	m.logger.InfoContext(ctx, "session created", "user_id", sess.PrincipalID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Touch records activity. With extend, expiresAt moves to now+duration but never backwards.
// An expired session is invalidated and ErrSessionExpired is returned.
func (m *SessionManager) Touch(ctx context.Context, principalID string, extend bool) error {
	sess, err := m.store.GetInfo(ctx, principalID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	now := m.cfg.Clock.Now()
	if sess.ExpiredAt(now) {
		m.expire(ctx, sess)
		return fmt.Errorf("touch session: %w", domainauth.ErrSessionExpired)
	}

	var expiresAt time.Time
	if extend {
		expiresAt = later(sess.ExpiresAt, now.Add(m.cfg.Duration))
	}
	if err := m.store.UpdateActivity(ctx, principalID, now, expiresAt); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Invalidate marks the session inactive. At least one identifier is required.
func (m *SessionManager) Invalidate(ctx context.Context, principalID, sessionID string) error {
	if principalID == "" && sessionID == "" {
		return apperrors.Validation("principal id or session id is required")
	}
	if err := m.store.Invalidate(ctx, principalID, sessionID); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// Revoke invalidates sess and records why, e.g. admin status withdrawn mid-session.
func (m *SessionManager) Revoke(ctx context.Context, sess domainauth.Session, reason string) error {
	m.logger.WarnContext(ctx, "revoking session", "user_id", sess.PrincipalID, "reason", reason)
	return m.Invalidate(ctx, sess.PrincipalID, sess.ID)
}

// Info returns the principal's active session or ErrSessionNotFound.
func (m *SessionManager) Info(ctx context.Context, principalID string) (domainauth.Session, error) {
	sess, err := m.store.GetInfo(ctx, principalID)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("session info: %w", err)
	}
	return sess, nil
}

// Resolve maps an opaque session id handed to a client back to its session.
func (m *SessionManager) Resolve(ctx context.Context, sessionID string) (domainauth.Session, error) {
	if sessionID == "" {
		return domainauth.Session{}, domainauth.ErrNoSession
	}
	sess, err := m.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("resolve session: %w", err)
	}
	return sess, nil
}

// Validate answers whether the principal's session may be used now.
// Sessions inside the extend threshold are extended in place. The error is
// non-nil only for store failures other than a missing session.
func (m *SessionManager) Validate(ctx context.Context, principalID string) (domainauth.SessionValidity, error) {
	sess, err := m.store.GetInfo(ctx, principalID)
	if errors.Is(err, domainauth.ErrSessionNotFound) {
		return domainauth.SessionValidity{Reason: domainauth.ReasonNoSession}, nil
	}
	if err != nil {
		return domainauth.SessionValidity{}, fmt.Errorf("validate session: %w", err)
	}
	if !sess.IsActive {
		return domainauth.SessionValidity{Reason: domainauth.ReasonInactive}, nil
	}

	now := m.cfg.Clock.Now()
	if sess.ExpiredAt(now) {
		m.expire(ctx, sess)
		return domainauth.SessionValidity{Reason: domainauth.ReasonExpired}, nil
	}

	if sess.Remaining(now) < m.cfg.ExtendThreshold {
		expiresAt := later(sess.ExpiresAt, now.Add(m.cfg.Duration))
		if err := m.store.UpdateActivity(ctx, principalID, now, expiresAt); err != nil {
			m.logger.WarnContext(ctx, "session auto-extend failed", "user_id", principalID, "error", err)
			return domainauth.SessionValidity{Valid: true, Session: &sess}, nil
		}
		sess.LastActivity = now
		sess.ExpiresAt = expiresAt
		return domainauth.SessionValidity{Valid: true, Session: &sess, Reason: domainauth.ReasonExtended}, nil
	}
	return domainauth.SessionValidity{Valid: true, Session: &sess}, nil
}

// CleanExpired invalidates every session past its expiry.
func (m *SessionManager) CleanExpired(ctx context.Context) (int, error) {
	n, err := m.store.CleanExpired(ctx, m.cfg.Clock.Now())
	if err != nil {
		return n, fmt.Errorf("clean expired sessions: %w", err)
	}
	return n, nil
}

func (m *SessionManager) expire(ctx context.Context, sess domainauth.Session) {
	if err := m.store.Invalidate(ctx, sess.PrincipalID, sess.ID); err != nil {
		m.logger.WarnContext(ctx, "failed to invalidate expired session", "user_id", sess.PrincipalID, "error", err)
	}
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
