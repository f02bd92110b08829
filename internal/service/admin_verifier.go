package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/ports"
)

// AdminVerifierConfig holds the verification knobs.
type AdminVerifierConfig struct {
	AdminEmail   string        // distinguished operator address
	StoreTimeout time.Duration // bound on the durable-store call (default 8s)
	CacheTTL     time.Duration // ttl for stored decisions (0 = cache default)
}

// AdminVerifierOptions groups dependencies for AdminVerifier.
type AdminVerifierOptions struct {
	Store   ports.ProfileStore   // Required: durable role store
	Cache   *AdminCache          // Required: decision cache
	Audit   ports.AuditLogger    // Optional: admin_check entries
	Config  AdminVerifierConfig  // Required: AdminEmail
	Logger  *slog.Logger         // Optional
	Metrics *metrics.AuthMetrics // Optional
}

// AdminVerifier decides whether a principal is an admin. Layers are evaluated in order
// and the first conclusive one wins: identity shortcut, cache, durable store, fallback.
// The durable-store call is never retried on this path.
type AdminVerifier struct {
	store   ports.ProfileStore
	cache   *AdminCache
	audit   ports.AuditLogger
	cfg     AdminVerifierConfig
	logger  *slog.Logger
	metrics *metrics.AuthMetrics
	group   singleflight.Group
}

// NewAdminVerifier constructs an AdminVerifier.
func NewAdminVerifier(opts AdminVerifierOptions) (*AdminVerifier, error) {
	if opts.Store == nil {
		return nil, errors.New("ProfileStore is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("AdminCache is required")
	}
	cfg := opts.Config
	cfg.AdminEmail = domainauth.NormalizeEmail(cfg.AdminEmail)
	if cfg.AdminEmail == "" {
		return nil, errors.New("admin email is required")
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 8 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminVerifier{
		store:   opts.Store,
		cache:   opts.Cache,
		audit:   opts.Audit,
		cfg:     cfg,
		logger:  logger.With("component", "admin_verifier"),
		metrics: opts.Metrics,
	}, nil
}

// IsDistinguished reports whether email is the configured operator address.
func (v *AdminVerifier) IsDistinguished(email string) bool {
	return domainauth.NormalizeEmail(email) == v.cfg.AdminEmail
}

// Verify resolves the admin status of p and records exactly one admin_check entry.
func (v *AdminVerifier) Verify(ctx context.Context, p domainauth.Principal, meta domainauth.RequestMeta) domainauth.AdminVerification {
	start := time.Now()
	res := v.resolve(ctx, p)

	v.metrics.AdminCheck(string(res.Method), res.IsAdmin, time.Since(start))
	if v.audit != nil {
		v.audit.Log(ctx, domainauth.LogEntry{
			UserID:    p.ID,
			Email:     p.Email,
			Action:    domainauth.ActionAdminCheck,
			Method:    string(res.Method),
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			Success:   res.IsAdmin,
			Error:     res.Error,
		})
	}
	return res
}

func (v *AdminVerifier) resolve(ctx context.Context, p domainauth.Principal) domainauth.AdminVerification {
	// The shortcut must not touch the cache or the store.
	if v.IsDistinguished(p.Email) {
		return domainauth.AdminVerification{IsAdmin: true, Method: domainauth.MethodIdentityShortcut}
	}

	if e, ok := v.cache.Get(p.ID); ok {
		return domainauth.AdminVerification{IsAdmin: e.IsAdmin, Method: domainauth.MethodCache, Profile: e.Profile}
	}

	check, err := v.lookup(ctx, p.ID)
	if err == nil {
		v.cache.Set(p.ID, check.IsAdmin, check.Profile, v.cfg.CacheTTL)
		return domainauth.AdminVerification{IsAdmin: check.IsAdmin, Method: domainauth.MethodDurableStore, Profile: check.Profile}
	}

	v.logger.WarnContext(ctx, "admin role lookup failed, using fallback",
		"user_id", p.ID,
		"error", err,
	)
	return domainauth.AdminVerification{
		IsAdmin: v.IsDistinguished(p.Email),
		Method:  domainauth.MethodFallback,
		Error:   err.Error(),
	}
}

// lookup runs one bounded CheckAdminRole call, shared by concurrent callers for the same principal.
func (v *AdminVerifier) lookup(ctx context.Context, principalID string) (domainauth.RoleCheck, error) {
	if principalID == "" {
		return domainauth.RoleCheck{}, fmt.Errorf("check admin role: %w", domainauth.ErrProfileNotFound)
	}

	ch := v.group.DoChan(principalID, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.cfg.StoreTimeout)
		defer cancel()
		return v.store.CheckAdminRole(callCtx, principalID)
	})

	select {
	case <-ctx.Done():
		return domainauth.RoleCheck{}, fmt.Errorf("check admin role: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return domainauth.RoleCheck{}, fmt.Errorf("check admin role: %w", r.Err)
		}
		check, _ := r.Val.(domainauth.RoleCheck)
		return check, nil
	}
}

// Invalidate drops the cached decision for principalID.
func (v *AdminVerifier) Invalidate(principalID string) {
	v.cache.Clear(principalID)
}
