package adminclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

// fakeTimers is a manual scheduler and clock. Advance runs due callbacks in
// time order without holding its own lock.
type fakeTimers struct {
	mu         sync.Mutex
	now        time.Time
	timers     []*fakeTimer
	ignoreStop bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTimers) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: f.now.Add(d), f: fn}
	f.timers = append(f.timers, t)
	return &fakeHandle{owner: f, t: t}
}

func (f *fakeTimers) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()
	for {
		f.mu.Lock()
		var next *fakeTimer
		for _, t := range f.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		next.fired = true
		f.now = next.at
		f.mu.Unlock()
		next.f()
	}
}

type fakeHandle struct {
	owner *fakeTimers
	t     *fakeTimer
}

func (h *fakeHandle) Stop() bool {
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if h.owner.ignoreStop || h.t.fired || h.t.stopped {
		return false
	}
	h.t.stopped = true
	return true
}

type timeoutRecorder struct {
	mu        sync.Mutex
	events    []string
	warnings  []time.Duration
	reasons   []TimeoutReason
	redirects []string
}

func (r *timeoutRecorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *timeoutRecorder) snapshot() ([]string, []time.Duration, []TimeoutReason, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]time.Duration(nil), r.warnings...),
		append([]TimeoutReason(nil), r.reasons...), append([]string(nil), r.redirects...)
}

func newTestManager(t *testing.T, clock *fakeTimers, rec *timeoutRecorder, mutate func(*TimeoutOptions)) *TimeoutManager {
	t.Helper()
	opts := TimeoutOptions{
		Timeout: 10 * time.Minute,
		Warning: 2 * time.Minute,
		SignOut: func(context.Context) error {
			rec.add("sign_out")
			return nil
		},
		ClearCredentials: func() { rec.add("clear") },
		OnWarning: func(d time.Duration) {
			rec.mu.Lock()
			rec.warnings = append(rec.warnings, d)
			rec.mu.Unlock()
			rec.add("warning")
		},
		OnTimeout: func(reason TimeoutReason) {
			rec.mu.Lock()
			rec.reasons = append(rec.reasons, reason)
			rec.mu.Unlock()
			rec.add("timeout")
		},
		OnRedirect: func(target string) {
			rec.mu.Lock()
			rec.redirects = append(rec.redirects, target)
			rec.mu.Unlock()
			rec.add("redirect")
		},
		Clock:     clock,
		AfterFunc: clock.AfterFunc,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m, err := NewTimeoutManager(opts)
	require.NoError(t, err)
	return m
}

func TestTimeoutManager_WarningThenTimeout(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, nil)
	m.Start()

	clock.Advance(8 * time.Minute)
	events, warnings, _, _ := rec.snapshot()
	assert.Equal(t, []string{"warning"}, events)
	assert.Equal(t, []time.Duration{2 * time.Minute}, warnings)
	assert.Equal(t, 2*time.Minute, m.Remaining())
	assert.False(t, m.Expired())

	clock.Advance(2 * time.Minute)
	events, _, reasons, redirects := rec.snapshot()
	assert.Equal(t, []string{"warning", "sign_out", "clear", "timeout", "redirect"}, events)
	assert.Equal(t, []TimeoutReason{ReasonIdle}, reasons)
	assert.Equal(t, []string{"/login?message=idle_timeout"}, redirects)
	assert.True(t, m.Expired())
	assert.Zero(t, m.Remaining())
}

func TestTimeoutManager_ExtendResetsTimers(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, nil)
	m.Start()

	clock.Advance(7 * time.Minute)
	m.Extend()
	assert.Equal(t, 10*time.Minute, m.Remaining())

	clock.Advance(7 * time.Minute)
	events, _, _, _ := rec.snapshot()
	assert.Empty(t, events, "old timers must not fire after an extension")

	clock.Advance(3 * time.Minute)
	events, _, reasons, _ := rec.snapshot()
	assert.Equal(t, []string{"warning", "sign_out", "clear", "timeout", "redirect"}, events)
	assert.Equal(t, []TimeoutReason{ReasonIdle}, reasons)
}

func TestTimeoutManager_ActivityThrottle(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) { o.ExtendThrottle = time.Minute })
	m.Start()

	clock.Advance(30 * time.Second)
	assert.False(t, m.Activity(), "activity inside the throttle window must not extend")
	assert.Equal(t, 9*time.Minute+30*time.Second, m.Remaining())

	clock.Advance(40 * time.Second)
	assert.True(t, m.Activity())
	assert.Equal(t, 10*time.Minute, m.Remaining())
}

func TestTimeoutManager_StaleCallbacksIgnored(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	clock.ignoreStop = true
	m := newTestManager(t, clock, rec, nil)
	m.Start()

	clock.Advance(5 * time.Minute)
	m.Extend()

	// The first timers still fire at 8m and 10m but belong to an old generation.
	clock.Advance(5 * time.Minute)
	events, _, _, _ := rec.snapshot()
	assert.Empty(t, events)
	assert.False(t, m.Expired())

	clock.Advance(5 * time.Minute)
	events, warnings, reasons, _ := rec.snapshot()
	assert.Len(t, warnings, 1)
	assert.Equal(t, []TimeoutReason{ReasonIdle}, reasons)
	assert.Equal(t, "warning", events[0])
}

func TestTimeoutManager_ServerRevocation(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	checks := 0
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) {
		o.CheckInterval = time.Minute
		o.CheckValid = func(context.Context) (bool, error) {
			checks++
			return checks < 2, nil
		}
	})
	m.Start()

	clock.Advance(time.Minute)
	assert.False(t, m.Expired())

	clock.Advance(time.Minute)
	_, _, reasons, redirects := rec.snapshot()
	assert.Equal(t, []TimeoutReason{ReasonRevoked}, reasons)
	assert.Equal(t, []string{"/login?message=session_expired"}, redirects)
	assert.Equal(t, 2, checks)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 2, checks, "checks stop after the session ended")
}

func TestTimeoutManager_CheckErrorKeepsSession(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	checks := 0
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) {
		o.CheckInterval = time.Minute
		o.CheckValid = func(context.Context) (bool, error) {
			checks++
			return false, errors.New("network down")
		}
	})
	m.Start()

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 3, checks)
	assert.False(t, m.Expired())
}

func TestTimeoutManager_AbsoluteLimit(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) { o.Absolute = 15 * time.Minute })
	m.Start()

	clock.Advance(5 * time.Minute)
	m.Extend()
	clock.Advance(5 * time.Minute)
	m.Extend()
	assert.False(t, m.Expired())

	clock.Advance(5 * time.Minute)
	_, _, reasons, redirects := rec.snapshot()
	assert.Equal(t, []TimeoutReason{ReasonAbsolute}, reasons)
	assert.Equal(t, []string{"/login?message=session_expired"}, redirects)
}

func TestTimeoutManager_StopCancelsCallbacks(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	clock.ignoreStop = true
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) { o.Absolute = 20 * time.Minute })
	m.Start()
	m.Stop()

	clock.Advance(time.Hour)
	events, _, _, _ := rec.snapshot()
	assert.Empty(t, events)
	assert.False(t, m.Activity())
	assert.Zero(t, m.Remaining())
}

func TestTimeoutManager_ExpiresOnce(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) { o.Absolute = 10 * time.Minute })
	m.Start()

	clock.Advance(time.Hour)
	_, _, reasons, redirects := rec.snapshot()
	assert.Len(t, reasons, 1)
	assert.Len(t, redirects, 1)
}

func TestTimeoutManager_SignOutFailureStillClears(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, func(o *TimeoutOptions) {
		o.Warning = 0
		o.SignOut = func(context.Context) error {
			rec.add("sign_out")
			return errors.New("provider unavailable")
		}
	})
	m.Start()

	clock.Advance(10 * time.Minute)
	events, _, _, _ := rec.snapshot()
	assert.Equal(t, []string{"sign_out", "clear", "timeout", "redirect"}, events)
}

func TestTimeoutManager_Restart(t *testing.T) {
	clock, rec := newFakeTimers(), &timeoutRecorder{}
	m := newTestManager(t, clock, rec, nil)
	m.Start()
	clock.Advance(10 * time.Minute)
	require.True(t, m.Expired())

	m.Start()
	assert.False(t, m.Expired())
	assert.Equal(t, 10*time.Minute, m.Remaining())
}

func TestNewTimeoutManager_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts TimeoutOptions
		ok   bool
	}{
		{name: "zero timeout", opts: TimeoutOptions{}},
		{name: "warning equals timeout", opts: TimeoutOptions{Timeout: time.Minute, Warning: time.Minute}},
		{name: "negative warning", opts: TimeoutOptions{Timeout: time.Minute, Warning: -time.Second}},
		{name: "absolute shorter than timeout", opts: TimeoutOptions{Timeout: time.Hour, Absolute: time.Minute}},
		{name: "minimal", opts: TimeoutOptions{Timeout: time.Minute}, ok: true},
		{name: "full", opts: TimeoutOptions{Timeout: time.Hour, Warning: 5 * time.Minute, Absolute: 8 * time.Hour}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewTimeoutManager(tt.opts)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/login", m.opts.LoginURL)
		})
	}
}
