package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/testutil"
)

func newTestStore(t *testing.T) (*SessionStore, func(string) bool) {
	t.Helper()
	mr, client := testutil.SetupMiniRedis(t)
	return NewSessionStore(client), mr.Exists
}

func testSession(id, principal string, expiresIn time.Duration) domainauth.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domainauth.Session{
		ID:           id,
		PrincipalID:  principal,
		Email:        principal + "@lanterna.example",
		Role:         domainauth.RoleAdmin,
		IPAddress:    "10.0.0.1",
		SessionStart: now,
		LastActivity: now,
		ExpiresAt:    now.Add(expiresIn),
		IsActive:     true,
	}
}

func TestSessionStore_SaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := testSession("sid-1", "u1", 30*time.Minute)

	require.NoError(t, store.CreateOrUpdate(ctx, sess))

	got, err := store.GetInfo(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.Email, got.Email)
	assert.Equal(t, sess.Role, got.Role)
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))

	byID, err := store.GetBySessionID(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", byID.PrincipalID)
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetInfo(ctx, "missing")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	_, err = store.GetBySessionID(ctx, "missing")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	_, err = store.GetBySessionID(ctx, "")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestSessionStore_SaveEmptyID(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.CreateOrUpdate(context.Background(), testSession("", "u1", time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestSessionStore_ReplaceUnlinksOldID(t *testing.T) {
	store, exists := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrUpdate(ctx, testSession("old", "u1", time.Hour)))
	require.NoError(t, store.CreateOrUpdate(ctx, testSession("new", "u1", time.Hour)))

	_, err := store.GetBySessionID(ctx, "old")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	assert.False(t, exists(DefaultKeyPrefix+"id:old"))

	got, err := store.GetBySessionID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func TestSessionStore_UpdateActivity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := testSession("sid-1", "u1", time.Hour)
	require.NoError(t, store.CreateOrUpdate(ctx, sess))

	activity := sess.LastActivity.Add(10 * time.Minute)
	require.NoError(t, store.UpdateActivity(ctx, "u1", activity, time.Time{}))
	got, err := store.GetInfo(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.LastActivity.Equal(activity))
	assert.True(t, got.ExpiresAt.Equal(sess.ExpiresAt), "zero expiresAt leaves expiry unchanged")

	extended := sess.ExpiresAt.Add(2 * time.Hour)
	require.NoError(t, store.UpdateActivity(ctx, "u1", activity, extended))
	got, err = store.GetInfo(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(extended))

	err = store.UpdateActivity(ctx, "nobody", activity, extended)
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestSessionStore_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("by principal", func(t *testing.T) {
		store, exists := newTestStore(t)
		require.NoError(t, store.CreateOrUpdate(ctx, testSession("sid-1", "u1", time.Hour)))
		require.NoError(t, store.Invalidate(ctx, "u1", ""))
		_, err := store.GetInfo(ctx, "u1")
		require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
		assert.False(t, exists(DefaultKeyPrefix+"id:sid-1"))
	})

	t.Run("by session id", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.CreateOrUpdate(ctx, testSession("sid-2", "u2", time.Hour)))
		require.NoError(t, store.Invalidate(ctx, "", "sid-2"))
		_, err := store.GetInfo(ctx, "u2")
		require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	})

	t.Run("stale session id keeps the newer session", func(t *testing.T) {
		store, exists := newTestStore(t)
		require.NoError(t, store.CreateOrUpdate(ctx, testSession("old", "u3", time.Hour)))
		require.NoError(t, store.CreateOrUpdate(ctx, testSession("new", "u3", time.Hour)))

		require.NoError(t, store.Invalidate(ctx, "u3", "old"))

		got, err := store.GetInfo(ctx, "u3")
		require.NoError(t, err)
		assert.Equal(t, "new", got.ID)
		assert.True(t, exists(DefaultKeyPrefix+"id:new"))
		assert.False(t, exists(DefaultKeyPrefix+"id:old"))
	})

	t.Run("idempotent", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Invalidate(ctx, "ghost", ""))
		require.NoError(t, store.Invalidate(ctx, "", "ghost-sid"))
	})
}

func TestSessionStore_CleanExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrUpdate(ctx, testSession("a", "expired-1", time.Minute)))
	require.NoError(t, store.CreateOrUpdate(ctx, testSession("b", "expired-2", 2*time.Minute)))
	require.NoError(t, store.CreateOrUpdate(ctx, testSession("c", "alive", time.Hour)))

	n, err := store.CleanExpired(ctx, time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.GetInfo(ctx, "expired-1")
	require.ErrorIs(t, err, domainauth.ErrSessionNotFound)
	_, err = store.GetInfo(ctx, "alive")
	require.NoError(t, err)

	n, err = store.CleanExpired(ctx, time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionStore_CustomPrefix(t *testing.T) {
	mr, client := testutil.SetupMiniRedis(t)
	store := NewSessionStoreWithPrefix(client, "test-prefix:")

	require.NoError(t, store.CreateOrUpdate(context.Background(), testSession("sid", "u1", time.Hour)))
	assert.True(t, mr.Exists("test-prefix:user:u1"))
	assert.True(t, mr.Exists("test-prefix:id:sid"))
}

func TestSessionStore_RedisUnavailable(t *testing.T) {
	mr, client := testutil.SetupMiniRedis(t)
	store := NewSessionStore(client)
	mr.Close()

	_, err := store.GetInfo(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domainauth.ErrSessionNotFound)
}
