package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestRetry_PermanentStops(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 3, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(10))
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestFixedClock(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFixedClock(t0)
	c.Advance(time.Minute)
	assert.Equal(t, t0.Add(time.Minute), c.Now())
	c.Set(t0)
	assert.Equal(t, t0, c.Now())
	assert.IsType(t, SystemClock{}, OrSystem(nil))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "0:00", FormatRemaining(-time.Second))
	assert.Equal(t, "4:05", FormatRemaining(4*time.Minute+5*time.Second))
	assert.Equal(t, "1:02:03", FormatRemaining(time.Hour+2*time.Minute+3*time.Second))
}
