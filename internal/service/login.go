package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

// LoginServiceDeps lists the collaborators of LoginService.
type LoginServiceDeps struct {
	Provider ports.CredentialProvider // Required
	Profiles ports.ProfileStore       // Required
	Verifier *AdminVerifier           // Required
	Sessions *SessionManager          // Required
	Roles    ports.RoleMapper         // Optional: role for newly provisioned profiles
	Audit    ports.AuditLogger        // Optional
}

// LoginServiceOptions groups dependencies for LoginService.
type LoginServiceOptions struct {
	Deps    LoginServiceDeps
	Retry   util.RetryPolicy // profile writes; zero uses the default policy
	Clock   util.Clock       // Optional: defaults to the session manager's clock
	Logger  *slog.Logger
	Metrics *metrics.AuthMetrics
}

// LoginService orchestrates sign-in and sign-out across the credential provider,
// profile store, admin verifier and session manager.
type LoginService struct {
	deps    LoginServiceDeps
	retry   util.RetryPolicy
	clock   util.Clock
	logger  *slog.Logger
	metrics *metrics.AuthMetrics
}

// NewLoginService constructs a LoginService.
func NewLoginService(opts LoginServiceOptions) (*LoginService, error) {
	d := opts.Deps
	switch {
	case d.Provider == nil:
		return nil, errors.New("CredentialProvider is required")
	case d.Profiles == nil:
		return nil, errors.New("ProfileStore is required")
	case d.Verifier == nil:
		return nil, errors.New("AdminVerifier is required")
	case d.Sessions == nil:
		return nil, errors.New("SessionManager is required")
	}
	retry := opts.Retry
	if retry.Attempts <= 0 {
		retry = util.DefaultRetryPolicy
	}
	clock := opts.Clock
	if clock == nil {
		clock = d.Sessions.cfg.Clock
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginService{
		deps:    d,
		retry:   retry,
		clock:   clock,
		logger:  logger.With("component", "login_service"),
		metrics: opts.Metrics,
	}, nil
}

// LoginInput carries the submitted credentials and client details.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Principal       domainauth.Principal          `json:"user"`
	ProviderSession domainauth.ProviderSession    `json:"-"`
	Session         domainauth.Session            `json:"session"`
	IsAdmin         bool                          `json:"is_admin"`
	Method          domainauth.VerificationMethod `json:"method"`
}

// Login authenticates the credentials, verifies admin status and opens a session.
// Provider errors are returned as-is. Only the distinguished admin address gets the
// provisioning retry when sign-in fails.
func (s *LoginService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := time.Now()
	res, err := s.login(ctx, in)
	s.metrics.Login(err, time.Since(start))
	return res, err
}

func (s *LoginService) login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = domainauth.NormalizeEmail(in.Email)
	meta := domainauth.RequestMeta{IPAddress: in.IPAddress, UserAgent: in.UserAgent}

	if in.Email == "" || in.Password == "" {
		err := apperrors.Wrap(domainauth.ErrInvalidCredentials, apperrors.ErrCodeInvalidCredentials, "email and password are required")
		s.auditLogin(ctx, domainauth.Principal{Email: in.Email}, meta, "", err)
		return nil, err
	}

	creds := ports.SignInInput{Email: in.Email, Password: in.Password}
	ps, err := s.deps.Provider.SignIn(ctx, creds)
	if err != nil && s.deps.Verifier.IsDistinguished(in.Email) {
		s.logger.WarnContext(ctx, "admin sign-in failed, attempting provisioning", "error", err)
		ps, err = s.provisionAndRetry(ctx, creds, err)
	}
	if err != nil {
		s.auditLogin(ctx, domainauth.Principal{Email: in.Email}, meta, "", err)
		return nil, err
	}

	principal := ps.Principal
	if principal.Email == "" {
		principal.Email = in.Email
	}

	if err := s.ensureProfile(ctx, principal); err != nil {
		// Verification below falls back when the store is unhealthy.
		s.logger.WarnContext(ctx, "profile upsert failed", "user_id", principal.ID, "error", err)
	}

	ver := s.deps.Verifier.Verify(ctx, principal, meta)
	if ver.IsAdmin {
		if err := s.deps.Profiles.RecordLogin(ctx, principal.ID, s.clock.Now()); err != nil {
			s.logger.WarnContext(ctx, "failed to record login statistics", "user_id", principal.ID, "error", err)
		}
	}

	sess, err := s.deps.Sessions.Create(ctx, CreateSessionInput{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Role:        sessionRole(principal, ver),
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
	})
	if err != nil {
		s.auditLogin(ctx, principal, meta, ver.Method, err)
		return nil, err
	}

	s.auditLogin(ctx, principal, meta, ver.Method, nil)
	s.logger.InfoContext(ctx, "login succeeded", "user_id", principal.ID, "is_admin", ver.IsAdmin, "method", ver.Method)

	return &LoginResult{
		Principal:       principal,
		ProviderSession: ps,
		Session:         sess,
		IsAdmin:         ver.IsAdmin,
		Method:          ver.Method,
	}, nil
}

// provisionAndRetry creates the admin account when it is missing, then signs in once more.
func (s *LoginService) provisionAndRetry(ctx context.Context, creds ports.SignInInput, signInErr error) (domainauth.ProviderSession, error) {
	if _, err := s.deps.Provider.SignUp(ctx, creds); err != nil && !errors.Is(err, domainauth.ErrAccountExists) {
		if errors.Is(err, domainauth.ErrProvisioningUnsupported) {
			return domainauth.ProviderSession{}, signInErr
		}
		return domainauth.ProviderSession{}, errors.Join(signInErr, fmt.Errorf("provision admin account: %w", err))
	}
	return s.deps.Provider.SignIn(ctx, creds)
}

// ensureProfile upserts the durable profile. A role is only assigned to new profiles.
func (s *LoginService) ensureProfile(ctx context.Context, p domainauth.Principal) error {
	role := p.Role
	if s.deps.Roles != nil {
		role = s.deps.Roles.Map(p.Groups)
	}
	if !role.Valid() {
		role = domainauth.RoleUser
	}

	err := util.Retry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.deps.Profiles.UpsertProfile(ctx, p, role)
		if apperrors.IsValidation(err) || apperrors.IsConflict(err) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	s.deps.Verifier.Invalidate(p.ID)
	return nil
}

func sessionRole(p domainauth.Principal, ver domainauth.AdminVerification) domainauth.Role {
	switch {
	case ver.IsAdmin:
		return domainauth.RoleAdmin
	case ver.Profile != nil && ver.Profile.Role.Valid():
		return ver.Profile.Role
	case p.Role.Valid():
		return p.Role
	default:
		return domainauth.RoleUser
	}
}

func (s *LoginService) auditLogin(ctx context.Context, p domainauth.Principal, meta domainauth.RequestMeta, method domainauth.VerificationMethod, err error) {
	if s.deps.Audit == nil {
		return
	}
	e := domainauth.LogEntry{
		UserID:    p.ID,
		Email:     p.Email,
		Action:    domainauth.ActionLogin,
		Method:    string(method),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.deps.Audit.Log(ctx, e)
}

// LogoutInput identifies what to tear down.
type LogoutInput struct {
	Principal   domainauth.Principal
	SessionID   string
	AccessToken string
	IPAddress   string
	UserAgent   string
}

// Logout runs provider sign-out, cache clear, session invalidation and the audit entry.
// Every step runs even if an earlier one failed; failures are joined.
func (s *LoginService) Logout(ctx context.Context, in LogoutInput) error {
	var errs []error

	if in.AccessToken != "" {
		if err := s.deps.Provider.SignOut(ctx, in.AccessToken); err != nil {
			errs = append(errs, fmt.Errorf("provider sign out: %w", err))
		}
	}

	if in.Principal.ID != "" {
		if err := s.clearCache(in.Principal.ID); err != nil {
			errs = append(errs, err)
		}
	}

	if in.Principal.ID != "" || in.SessionID != "" {
		if err := s.deps.Sessions.Invalidate(ctx, in.Principal.ID, in.SessionID); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if s.deps.Audit != nil {
		e := domainauth.LogEntry{
			UserID:    in.Principal.ID,
			Email:     in.Principal.Email,
			Action:    domainauth.ActionLogout,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
			Success:   err == nil,
		}
		if err != nil {
			e.Error = err.Error()
		}
		s.deps.Audit.Log(ctx, e)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "logout completed with errors", "user_id", in.Principal.ID, "error", err)
	}
	return err
}

// clearCache converts a panic in the cache into an error so logout can continue.
func (s *LoginService) clearCache(principalID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("clear admin cache: %v", r)
		}
	}()
	s.deps.Verifier.Invalidate(principalID)
	return nil
}

// Refresh exchanges a provider refresh token for a new provider session.
func (s *LoginService) Refresh(ctx context.Context, refreshToken string) (domainauth.ProviderSession, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domainauth.ProviderSession{}, domainauth.ErrNoSession
	}
	ps, err := s.deps.Provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		return domainauth.ProviderSession{}, fmt.Errorf("refresh session: %w", err)
	}
	return ps, nil
}
