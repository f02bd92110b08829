package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	apperrors "github.com/lanterna/lanterna-api/internal/errors"
	mockauth "github.com/lanterna/lanterna-api/internal/mocks/auth"
	"github.com/lanterna/lanterna-api/internal/util"
)

func newSessionFixture(t *testing.T) (*SessionManager, *mockauth.MemorySessionStore, *util.FixedClock) {
	t.Helper()
	store := mockauth.NewMemorySessionStore()
	clock := util.NewFixedClock(t0)
	m, err := NewSessionManager(SessionManagerOptions{
		Store: store,
		Config: SessionManagerConfig{
			Duration:        8 * time.Hour,
			ExtendThreshold: 30 * time.Minute,
			Retry:           util.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
			Clock:           clock,
		},
	})
	require.NoError(t, err)
	return m, store, clock
}

func createTestSession(t *testing.T, m *SessionManager) domainauth.Session {
	t.Helper()
	sess, err := m.Create(context.Background(), CreateSessionInput{
		PrincipalID: "u1",
		Email:       "Chef@Lanterna.example",
		Role:        domainauth.RoleAdmin,
		IPAddress:   "10.1.1.1",
	})
	require.NoError(t, err)
	return sess
}

func TestSessionManager_Create(t *testing.T) {
	m, store, _ := newSessionFixture(t)
	sess := createTestSession(t, m)

	assert.NotEmpty(t, sess.ID)
	assert.True(t, sess.IsActive)
	assert.Equal(t, "chef@lanterna.example", sess.Email)
	assert.Equal(t, t0, sess.SessionStart)
	assert.Equal(t, t0.Add(8*time.Hour), sess.ExpiresAt)

	stored, ok := store.Raw("u1")
	require.True(t, ok)
	assert.Equal(t, sess.ID, stored.ID)

	_, err := m.Create(context.Background(), CreateSessionInput{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestSessionManager_CreateReplacesPreviousSession(t *testing.T) {
	m, _, _ := newSessionFixture(t)
	first := createTestSession(t, m)
	second := createTestSession(t, m)
	require.NotEqual(t, first.ID, second.ID)

	_, err := m.Resolve(context.Background(), first.ID)
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	got, err := m.Resolve(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.PrincipalID)
}

// flakySessionStore fails CreateOrUpdate a fixed number of times.
type flakySessionStore struct {
	*mockauth.MemorySessionStore
	failures int
	calls    int
}

func (f *flakySessionStore) CreateOrUpdate(ctx context.Context, sess domainauth.Session) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.MemorySessionStore.CreateOrUpdate(ctx, sess)
}

func TestSessionManager_CreateRetries(t *testing.T) {
	store := &flakySessionStore{MemorySessionStore: mockauth.NewMemorySessionStore(), failures: 2}
	m, err := NewSessionManager(SessionManagerOptions{
		Store:  store,
		Config: SessionManagerConfig{Retry: util.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}},
	})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), CreateSessionInput{PrincipalID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)

	store.failures, store.calls = 10, 0
	_, err = m.Create(context.Background(), CreateSessionInput{PrincipalID: "u2"})
	require.Error(t, err)
	assert.Equal(t, 3, store.calls)
}

func TestSessionManager_ValidateNeverAcceptsExpired(t *testing.T) {
	m, store, clock := newSessionFixture(t)
	sess := createTestSession(t, m)

	for _, at := range []time.Time{sess.ExpiresAt, sess.ExpiresAt.Add(time.Nanosecond), sess.ExpiresAt.Add(24 * time.Hour)} {
		clock.Set(at)
		v, err := m.Validate(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, v.Valid, "expired at %v", at)
	}

	raw, _ := store.Raw("u1")
	assert.False(t, raw.IsActive, "expired session must be invalidated")

	// No resurrection: moving the clock back does not revive it.
	clock.Set(t0)
	v, err := m.Validate(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, domainauth.ReasonNoSession, v.Reason)
}

func TestSessionManager_ValidateExpiredReason(t *testing.T) {
	m, _, clock := newSessionFixture(t)
	createTestSession(t, m)
	clock.Advance(8 * time.Hour)

	v, err := m.Validate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domainauth.ReasonExpired, v.Reason)
}

func TestSessionManager_ValidateAutoExtendsInsideThreshold(t *testing.T) {
	m, store, clock := newSessionFixture(t)
	sess := createTestSession(t, m)

	clock.Set(t0.Add(7*time.Hour + 45*time.Minute))
	v, err := m.Validate(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, v.Valid)
	assert.Equal(t, domainauth.ReasonExtended, v.Reason)
	assert.True(t, v.Session.ExpiresAt.After(sess.ExpiresAt))
	assert.Equal(t, clock.Now().Add(8*time.Hour), v.Session.ExpiresAt)

	raw, _ := store.Raw("u1")
	assert.Equal(t, v.Session.ExpiresAt, raw.ExpiresAt)
	assert.Equal(t, clock.Now(), raw.LastActivity)
}

func TestSessionManager_ValidateOutsideThreshold(t *testing.T) {
	m, _, clock := newSessionFixture(t)
	sess := createTestSession(t, m)

	clock.Advance(time.Hour)
	v, err := m.Validate(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, domainauth.ReasonNone, v.Reason)
	assert.Equal(t, sess.ExpiresAt, v.Session.ExpiresAt)
}

func TestSessionManager_ValidateStoreError(t *testing.T) {
	m, store, _ := newSessionFixture(t)
	store.Err = errors.New("redis: connection refused")

	_, err := m.Validate(context.Background(), "u1")
	require.Error(t, err)
}

func TestSessionManager_TouchNeverDecreasesExpiry(t *testing.T) {
	m, store, clock := newSessionFixture(t)
	createTestSession(t, m)
	ctx := context.Background()

	// Lengthen the session beyond the default so a plain extend would shorten it.
	require.NoError(t, store.UpdateActivity(ctx, "u1", t0, t0.Add(20*time.Hour)))

	prev := t0.Add(20 * time.Hour)
	for i := range 5 {
		clock.Advance(time.Duration(i) * time.Minute)
		require.NoError(t, m.Touch(ctx, "u1", true))
		raw, _ := store.Raw("u1")
		assert.False(t, raw.ExpiresAt.Before(prev), "expiresAt decreased on touch %d", i)
		assert.False(t, raw.ExpiresAt.Before(raw.LastActivity))
		prev = raw.ExpiresAt
	}

	clock.Advance(19 * time.Hour)
	require.NoError(t, m.Touch(ctx, "u1", true))
	raw, _ := store.Raw("u1")
	assert.Equal(t, clock.Now().Add(8*time.Hour), raw.ExpiresAt)
}

func TestSessionManager_TouchWithoutExtend(t *testing.T) {
	m, store, clock := newSessionFixture(t)
	sess := createTestSession(t, m)

	clock.Advance(time.Hour)
	require.NoError(t, m.Touch(context.Background(), "u1", false))
	raw, _ := store.Raw("u1")
	assert.Equal(t, sess.ExpiresAt, raw.ExpiresAt)
	assert.Equal(t, clock.Now(), raw.LastActivity)
}

func TestSessionManager_TouchExpired(t *testing.T) {
	m, store, clock := newSessionFixture(t)
	createTestSession(t, m)

	clock.Advance(9 * time.Hour)
	err := m.Touch(context.Background(), "u1", true)
	require.ErrorIs(t, err, domainauth.ErrSessionExpired)
	raw, _ := store.Raw("u1")
	assert.False(t, raw.IsActive)
}

func TestSessionManager_Invalidate(t *testing.T) {
	m, _, _ := newSessionFixture(t)
	ctx := context.Background()

	err := m.Invalidate(ctx, "", "")
	assert.True(t, apperrors.IsValidation(err))

	sess := createTestSession(t, m)
	require.NoError(t, m.Invalidate(ctx, "", sess.ID))
	_, err = m.Info(ctx, "u1")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)

	// Invalid is terminal until a fresh Create.
	v, err := m.Validate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	createTestSession(t, m)
	v, err = m.Validate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestSessionManager_CleanExpired(t *testing.T) {
	m, _, clock := newSessionFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := m.Create(ctx, CreateSessionInput{PrincipalID: id, Duration: time.Hour})
		require.NoError(t, err)
	}
	_, err := m.Create(ctx, CreateSessionInput{PrincipalID: "c"})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	n, err := m.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = m.Info(ctx, "c")
	require.NoError(t, err)
}

func TestSessionManager_ResolveEmpty(t *testing.T) {
	m, _, _ := newSessionFixture(t)
	_, err := m.Resolve(context.Background(), "")
	require.ErrorIs(t, err, domainauth.ErrNoSession)
}
