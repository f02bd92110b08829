package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lanterna/lanterna-api/config"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
)

type cacheSweeper interface {
	Cleanup() int
}

type sessionSweeper interface {
	CleanExpired(ctx context.Context) (int, error)
}

type auditPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// AuthReaperTargets lists what the reaper sweeps. Nil targets are skipped.
type AuthReaperTargets struct {
	Cache    cacheSweeper
	Sessions sessionSweeper
	Audit    auditPurger
}

// AuthReaperOptions groups dependencies for AuthReaper.
type AuthReaperOptions struct {
	Targets AuthReaperTargets    // Required: at least one target
	Config  config.ReaperConfig  // Required: intervals
	Logger  *slog.Logger         // Optional: structured logger
	Metrics *metrics.AuthMetrics // Optional
}

// AuthReaper runs background housekeeping on two independent timers:
//   - every Interval: invalidate expired sessions and purge old audit entries.
//   - every CacheSweepInterval: evict expired admin-cache entries.
//
// Neither sweep shares a lock with request handling beyond the cache's own mutex.
type AuthReaper struct {
	targets AuthReaperTargets
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics *metrics.AuthMetrics
}

// NewAuthReaper constructs a new AuthReaper.
func NewAuthReaper(opts AuthReaperOptions) (*AuthReaper, error) {
	t := opts.Targets
	if t.Cache == nil && t.Sessions == nil && t.Audit == nil {
		return nil, errors.New("at least one reaper target is required")
	}
	if opts.Config.Interval <= 0 || opts.Config.CacheSweepInterval <= 0 {
		return nil, errors.New("reaper intervals must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth_reaper")
	logger.Debug("AuthReaper initialized",
		"interval", opts.Config.Interval,
		"cache_sweep_interval", opts.Config.CacheSweepInterval,
	)
	return &AuthReaper{targets: t, config: opts.Config, logger: logger, metrics: opts.Metrics}, nil
}

// Run starts the sweep loop and blocks until ctx is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *AuthReaper) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting auth reaper", "interval", r.config.Interval)

	// Spread instances that start together.
	r.waitWithJitter(ctx)

	sessionTicker := time.NewTicker(r.config.Interval)
	defer sessionTicker.Stop()
	cacheTicker := time.NewTicker(r.config.CacheSweepInterval)
	defer cacheTicker.Stop()

	r.logCleanupError(r.Sweep(ctx), "initial sweep")

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "auth reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-sessionTicker.C:
			r.logCleanupError(r.sweepDurable(ctx), "session sweep")
		case <-cacheTicker.C:
			r.sweepCache()
		}
	}
}

// Sweep runs every cleanup step once. Used at startup and by the operator CLI.
func (r *AuthReaper) Sweep(ctx context.Context) error {
	r.sweepCache()
	return r.sweepDurable(ctx)
}

func (r *AuthReaper) sweepCache() {
	if r.targets.Cache == nil {
		return
	}
	n := r.targets.Cache.Cleanup()
	r.metrics.SweepOperation("admin_cache", int64(n), nil)
	if n > 0 {
		r.logger.Debug("evicted expired admin cache entries", "count", n)
	}
}

type cleanupStep struct {
	label string
	op    string
	fn    func(context.Context) (int64, error)
}

func (r *AuthReaper) sweepDurable(ctx context.Context) error {
	start := time.Now()
	var steps []cleanupStep
	if r.targets.Sessions != nil {
		steps = append(steps, cleanupStep{label: "clean expired sessions", op: "sessions", fn: func(ctx context.Context) (int64, error) {
			n, err := r.targets.Sessions.CleanExpired(ctx)
			return int64(n), err
		}})
	}
	if r.targets.Audit != nil {
		steps = append(steps, cleanupStep{label: "purge audit log", op: "audit", fn: r.targets.Audit.Purge})
	}

	var errs []error
	allCanceled := true
	for _, step := range steps {
		n, err := step.fn(ctx)
		r.metrics.SweepOperation(step.op, n, suppressContextCancellation(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allCanceled = allCanceled && isContextCancellation(err)
			continue
		}
		if n > 0 {
			r.logger.InfoContext(ctx, step.label, "count", n)
		}
	}

	if len(errs) == 0 {
		r.metrics.SweepCycle(time.Since(start), nil)
		return nil
	}
	joined := errors.Join(errs...)
	if allCanceled {
		return context.Canceled
	}
	r.metrics.SweepCycle(time.Since(start), joined)
	return fmt.Errorf("sweep failed: %w", joined)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (r *AuthReaper) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (r *AuthReaper) logCleanupError(err error, label string) {
	if err == nil {
		return
	}
	if isContextCancellation(err) {
		r.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	r.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
