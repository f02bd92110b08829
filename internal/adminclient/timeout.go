// Package adminclient is the operator-side counterpart of the HTTP surface: an
// API client that keeps the session cookie, and an advisory idle/absolute
// timeout tracker that signs the operator out proactively. The server-side
// gate remains the authority on every request.
package adminclient

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/lanterna/lanterna-api/internal/util"
)

// TimeoutReason says why the client session ended.
type TimeoutReason string

const (
	ReasonIdle     TimeoutReason = "idle"
	ReasonAbsolute TimeoutReason = "absolute"
	ReasonRevoked  TimeoutReason = "revoked"
)

// message is the login-page message key for the reason.
func (r TimeoutReason) message() string {
	if r == ReasonIdle {
		return "idle_timeout"
	}
	return "session_expired"
}

// Timer is the subset of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func systemAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// TimeoutOptions configures a TimeoutManager.
type TimeoutOptions struct {
	Timeout        time.Duration // idle timeout, required
	Warning        time.Duration // warn this long before Timeout; 0 disables
	Absolute       time.Duration // hard cap from Start; 0 disables
	CheckInterval  time.Duration // server validity poll; 0 disables
	ExtendThrottle time.Duration // minimum spacing between activity-driven extends

	SignOut          func(ctx context.Context) error         // provider/server sign-out
	ClearCredentials func()                                  // wipe the local credential store
	CheckValid       func(ctx context.Context) (bool, error) // server-side session check
	OnWarning        func(remaining time.Duration)
	OnTimeout        func(reason TimeoutReason)
	OnRedirect       func(target string)
	LoginURL         string // default /login

	Clock     util.Clock
	AfterFunc AfterFunc
	Logger    *slog.Logger
}

// TimeoutManager tracks operator inactivity. Every extension stops and re-arms
// the warning and timeout timers under one lock; callbacks from timers armed
// before the latest extension are discarded by generation.
type TimeoutManager struct {
	opts   TimeoutOptions
	clock  util.Clock
	after  AfterFunc
	logger *slog.Logger

	mu           sync.Mutex
	gen          uint64 // bumps on every re-arm of the idle timers
	run          uint64 // bumps on Start and Stop
	running      bool
	done         bool
	startedAt    time.Time
	lastActivity time.Time
	lastExtend   time.Time
	warning      Timer
	timeout      Timer
	absolute     Timer
	check        Timer
}

// NewTimeoutManager validates opts and returns a stopped manager.
func NewTimeoutManager(opts TimeoutOptions) (*TimeoutManager, error) {
	if opts.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	if opts.Warning < 0 || opts.Warning >= opts.Timeout {
		return nil, errors.New("warning must be shorter than the timeout")
	}
	if opts.Absolute != 0 && opts.Absolute < opts.Timeout {
		return nil, errors.New("absolute limit must not be shorter than the timeout")
	}
	if opts.LoginURL == "" {
		opts.LoginURL = "/login"
	}
	after := opts.AfterFunc
	if after == nil {
		after = systemAfterFunc
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutManager{
		opts:   opts,
		clock:  util.OrSystem(opts.Clock),
		after:  after,
		logger: logger.With("component", "session_timeout"),
	}, nil
}

// Start arms all timers. Calling Start on a running manager restarts it.
func (m *TimeoutManager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopAllLocked()
	m.run++
	m.running = true
	m.done = false
	now := m.clock.Now()
	m.startedAt = now
	m.lastActivity = now
	m.lastExtend = now

	m.armIdleLocked()
	run := m.run
	if m.opts.Absolute > 0 {
		m.absolute = m.after(m.opts.Absolute, func() { m.expireIfRun(run, ReasonAbsolute) })
	}
	m.armCheckLocked(run)
}

// Activity records operator activity and extends when the throttle allows.
// It reports whether the timers were re-armed.
func (m *TimeoutManager) Activity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.done {
		return false
	}
	now := m.clock.Now()
	m.lastActivity = now
	if now.Sub(m.lastExtend) < m.opts.ExtendThrottle {
		return false
	}
	m.extendLocked(now)
	return true
}

// Extend re-arms the warning and timeout timers unconditionally.
func (m *TimeoutManager) Extend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.done {
		return
	}
	now := m.clock.Now()
	m.lastActivity = now
	m.extendLocked(now)
}

// Stop cancels every timer without signing out.
func (m *TimeoutManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked()
	m.run++
	m.running = false
}

// Remaining returns the idle time left before the timeout fires.
func (m *TimeoutManager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.done {
		return 0
	}
	return max(m.opts.Timeout-m.clock.Now().Sub(m.lastExtend), 0)
}

// Expired reports whether the timeout path has run.
func (m *TimeoutManager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *TimeoutManager) extendLocked(now time.Time) {
	m.lastExtend = now
	m.armIdleLocked()
}

func (m *TimeoutManager) armIdleLocked() {
	stopTimer(m.warning)
	stopTimer(m.timeout)
	m.warning, m.timeout = nil, nil

	m.gen++
	gen := m.gen
	if m.opts.Warning > 0 {
		m.warning = m.after(m.opts.Timeout-m.opts.Warning, func() { m.warn(gen) })
	}
	m.timeout = m.after(m.opts.Timeout, func() { m.expireIfGen(gen, ReasonIdle) })
}

func (m *TimeoutManager) armCheckLocked(run uint64) {
	if m.opts.CheckInterval <= 0 || m.opts.CheckValid == nil {
		return
	}
	m.check = m.after(m.opts.CheckInterval, func() { m.checkValidity(run) })
}

func (m *TimeoutManager) stopAllLocked() {
	for _, t := range []Timer{m.warning, m.timeout, m.absolute, m.check} {
		stopTimer(t)
	}
	m.warning, m.timeout, m.absolute, m.check = nil, nil, nil, nil
	m.gen++
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}

func (m *TimeoutManager) warn(gen uint64) {
	m.mu.Lock()
	stale := gen != m.gen || !m.running || m.done
	m.mu.Unlock()
	if stale || m.opts.OnWarning == nil {
		return
	}
	m.opts.OnWarning(m.opts.Warning)
}

func (m *TimeoutManager) checkValidity(run uint64) {
	m.mu.Lock()
	stale := run != m.run || !m.running || m.done
	m.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), max(m.opts.CheckInterval/2, time.Second))
	valid, err := m.opts.CheckValid(ctx)
	cancel()
	switch {
	case err != nil:
		m.logger.Warn("session validity check failed", "error", err)
	case !valid:
		m.expireIfRun(run, ReasonRevoked)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if run == m.run && m.running && !m.done {
		m.armCheckLocked(run)
	}
}

func (m *TimeoutManager) expireIfGen(gen uint64, reason TimeoutReason) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.expireLocked(reason)
}

func (m *TimeoutManager) expireIfRun(run uint64, reason TimeoutReason) {
	m.mu.Lock()
	if run != m.run {
		m.mu.Unlock()
		return
	}
	m.expireLocked(reason)
}

// expireLocked runs the timeout path once. It is entered with m.mu held and
// releases it before calling out.
func (m *TimeoutManager) expireLocked(reason TimeoutReason) {
	if !m.running || m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	m.stopAllLocked()
	m.mu.Unlock()

	m.logger.Info("client session ended", "reason", string(reason))
	if m.opts.SignOut != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.opts.SignOut(ctx); err != nil {
			m.logger.Warn("sign out after timeout failed", "error", err)
		}
		cancel()
	}
	if m.opts.ClearCredentials != nil {
		m.opts.ClearCredentials()
	}
	if m.opts.OnTimeout != nil {
		m.opts.OnTimeout(reason)
	}
	if m.opts.OnRedirect != nil {
		q := url.Values{}
		q.Set("message", reason.message())
		m.opts.OnRedirect(m.opts.LoginURL + "?" + q.Encode())
	}
}
