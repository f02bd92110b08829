package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/util"
)

var t0 = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

func TestAdminCache_TTLBoundary(t *testing.T) {
	clock := util.NewFixedClock(t0)
	cache := NewAdminCache(AdminCacheOptions{Clock: clock})
	ttl := 2 * time.Minute

	cache.Set("u1", true, nil, ttl)

	clock.Set(t0.Add(ttl - time.Nanosecond))
	e, ok := cache.Get("u1")
	require.True(t, ok, "read before t0+ttl must hit")
	assert.True(t, e.IsAdmin)

	clock.Set(t0.Add(ttl))
	_, ok = cache.Get("u1")
	assert.False(t, ok, "read at t0+ttl must miss")
	assert.Equal(t, 0, cache.Len(), "expired entry must be deleted on read")
}

func TestAdminCache_DefaultTTL(t *testing.T) {
	clock := util.NewFixedClock(t0)
	cache := NewAdminCache(AdminCacheOptions{Clock: clock})

	cache.Set("u1", false, &domainauth.Profile{ID: "u1"}, 0)
	clock.Advance(DefaultAdminCacheTTL - time.Second)
	e, ok := cache.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", e.Profile.ID)

	clock.Advance(time.Second)
	_, ok = cache.Get("u1")
	assert.False(t, ok)
}

func TestAdminCache_SetOverwrites(t *testing.T) {
	cache := NewAdminCache(AdminCacheOptions{Clock: util.NewFixedClock(t0)})
	cache.Set("u1", true, nil, time.Minute)
	cache.Set("u1", false, nil, time.Minute)

	e, ok := cache.Get("u1")
	require.True(t, ok)
	assert.False(t, e.IsAdmin)
}

func TestAdminCache_Clear(t *testing.T) {
	cache := NewAdminCache(AdminCacheOptions{})
	cache.Set("u1", true, nil, 0)
	cache.Set("u2", true, nil, 0)
	cache.Set("u3", true, nil, 0)

	cache.Clear("u1")
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("u1")
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestAdminCache_Cleanup(t *testing.T) {
	clock := util.NewFixedClock(t0)
	cache := NewAdminCache(AdminCacheOptions{Clock: clock})
	cache.Set("short", true, nil, time.Minute)
	cache.Set("long", true, nil, time.Hour)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, cache.Cleanup())
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("long")
	assert.True(t, ok)
}

func TestAdminCache_ConcurrentAccess(t *testing.T) {
	clock := util.NewFixedClock(t0)
	cache := NewAdminCache(AdminCacheOptions{Clock: clock})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 200 {
				id := []string{"a", "b", "c"}[j%3]
				cache.Set(id, i%2 == 0, nil, time.Minute)
				if e, ok := cache.Get(id); ok {
					assert.False(t, e.Expired(clock.Now()))
				}
				if j%50 == 0 {
					cache.Cleanup()
				}
			}
		}(i)
	}
	wg.Wait()
}
