package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/observability/metrics"
	"github.com/lanterna/lanterna-api/internal/ports"
	"github.com/lanterna/lanterna-api/internal/util"
)

const (
	defaultAuditRetention = 30 * 24 * time.Hour
	defaultStatsDays      = 7
	maxStatsDays          = 365
)

// AuthLoggerConfig tunes the audit pipeline.
type AuthLoggerConfig struct {
	Buffer       int           // queued entries before console fallback (default 256)
	StoreTimeout time.Duration // per-insert bound (default 8s)
	Retention    time.Duration // Purge cutoff (default 30 days)
	Clock        util.Clock
}

// AuthLoggerOptions groups dependencies for AuthLogger.
type AuthLoggerOptions struct {
	Store   ports.AuditStore     // Required: audit persistence
	Config  AuthLoggerConfig     // Optional: tuning
	Logger  *slog.Logger         // Optional: console fallback and errors
	Metrics *metrics.AuthMetrics // Optional: drop counter
}

// AuthLogger writes audit entries asynchronously. Log never blocks the caller:
// when the queue is full, the store is failing, or the logger is closed, the entry
// is written to the structured log instead.
type AuthLogger struct {
	store   ports.AuditStore
	cfg     AuthLoggerConfig
	logger  *slog.Logger
	metrics *metrics.AuthMetrics

	ch        chan domainauth.LogEntry
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex // guards closed against sends racing Close
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

var _ ports.AuditLogger = (*AuthLogger)(nil)

// NewAuthLogger starts the background writer. Call Close to flush and stop it.
func NewAuthLogger(opts AuthLoggerOptions) (*AuthLogger, error) {
	if opts.Store == nil {
		return nil, errors.New("AuditStore is required")
	}
	cfg := opts.Config
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 8 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultAuditRetention
	}
	cfg.Clock = util.OrSystem(cfg.Clock)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &AuthLogger{
		store:   opts.Store,
		cfg:     cfg,
		logger:  logger.With("component", "auth_logger"),
		metrics: opts.Metrics,
		ch:      make(chan domainauth.LogEntry, cfg.Buffer),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log stamps and enqueues e.
func (l *AuthLogger) Log(_ context.Context, e domainauth.LogEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.cfg.Clock.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.console(e, "logger closed")
		return
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
		l.metrics.AuditDropped()
		l.console(e, "audit buffer full")
	}
}

// Dropped reports how many entries bypassed the store because the queue was full.
func (l *AuthLogger) Dropped() uint64 { return l.dropped.Load() }

// Close flushes queued entries and stops the writer. Safe to call more than once.
func (l *AuthLogger) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		l.wg.Wait()
	})
}

func (l *AuthLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.ch:
			l.write(e)
		case <-l.done:
			for {
				select {
				case e := <-l.ch:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *AuthLogger) write(e domainauth.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
	defer cancel()
	if err := l.store.Insert(ctx, e); err != nil {
		l.console(e, err.Error())
	}
}

// console is the fallback sink.
func (l *AuthLogger) console(e domainauth.LogEntry, reason string) {
	l.logger.Warn("auth event (console fallback)",
		"reason", reason,
		"action", e.Action,
		"user_id", e.UserID,
		"email", e.Email,
		"method", e.Method,
		"success", e.Success,
		"error", e.Error,
		"ip_address", e.IPAddress,
		"timestamp", e.Timestamp,
	)
}

// Purge deletes entries older than the retention window.
func (l *AuthLogger) Purge(ctx context.Context) (int64, error) {
	cutoff := l.cfg.Clock.Now().Add(-l.cfg.Retention)
	n, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		l.logger.InfoContext(ctx, "purged auth log entries", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Statistics aggregates the last days of audit entries (default 7, at most 365).
func (l *AuthLogger) Statistics(ctx context.Context, days int) (domainauth.Statistics, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	days = min(days, maxStatsDays)
	since := l.cfg.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := l.store.Statistics(ctx, since)
	if err != nil {
		return domainauth.Statistics{}, err
	}
	stats.Days = days
	stats.Since = since
	return stats, nil
}
