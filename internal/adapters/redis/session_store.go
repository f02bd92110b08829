// Package redis provides Redis-based adapters for the lanterna auth core.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/lanterna/lanterna-api/internal/domain/auth"
	"github.com/lanterna/lanterna-api/internal/ports"
)

var _ ports.SessionStore = (*SessionStore)(nil)

// DefaultKeyPrefix namespaces every key written by SessionStore.
const DefaultKeyPrefix = "lanterna:session:"

// expiredGrace keeps a record readable after its expiry so the sweeper can count it.
const expiredGrace = time.Hour

// deleteSessionLua removes the principal record, its id index and its expiry entry.
// Returns 1 when the principal record existed.
var deleteSessionLua = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
if ARGV[2] ~= "" then
  redis.call("DEL", KEYS[2])
end
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("DEL", KEYS[1])
return existed
`)

// SessionStore keeps one active session per principal in Redis.
//
// Layout:
//   - <prefix>user:<principal> holds the JSON session
//   - <prefix>id:<session id> maps a session id to its principal
//   - <prefix>expiry is a sorted set of principals scored by expiry (unix ms)
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return NewSessionStoreWithPrefix(client, DefaultKeyPrefix)
}

// NewSessionStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) userKey(principalID string) string { return s.prefix + "user:" + principalID }
func (s *SessionStore) idKey(sessionID string) string     { return s.prefix + "id:" + sessionID }
func (s *SessionStore) expiryKey() string                 { return s.prefix + "expiry" }

// CreateOrUpdate stores sess as the principal's session, replacing and unlinking any previous one.
func (s *SessionStore) CreateOrUpdate(ctx context.Context, sess domainauth.Session) error {
	if sess.ID == "" || sess.PrincipalID == "" {
		return errors.New("session and principal ID cannot be empty")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := recordTTL(sess.ExpiresAt)

	prev, err := s.load(ctx, sess.PrincipalID)
	if err != nil && !errors.Is(err, domainauth.ErrSessionNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if prev.ID != "" && prev.ID != sess.ID {
			p.Del(ctx, s.idKey(prev.ID))
		}
		p.Set(ctx, s.userKey(sess.PrincipalID), data, ttl)
		p.Set(ctx, s.idKey(sess.ID), sess.PrincipalID, ttl)
		p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: expiryScore(sess.ExpiresAt), Member: sess.PrincipalID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// UpdateActivity records activity and, when expiresAt is non-zero, a new expiry.
// The update is optimistic: a concurrent write to the same record aborts it.
func (s *SessionStore) UpdateActivity(ctx context.Context, principalID string, lastActivity, expiresAt time.Time) error {
	key := s.userKey(principalID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		sess, err := s.decode(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if !sess.IsActive {
			return domainauth.ErrSessionNotFound
		}
		sess.LastActivity = lastActivity
		if !expiresAt.IsZero() {
			sess.ExpiresAt = expiresAt
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		ttl := recordTTL(sess.ExpiresAt)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, ttl)
			p.Expire(ctx, s.idKey(sess.ID), ttl)
			p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: expiryScore(sess.ExpiresAt), Member: principalID})
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, domainauth.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("redis update session: %w", err)
	}
	return nil
}

// Invalidate removes the principal's session and/or the session with sessionID.
// When sessionID names a replaced session only its id index is removed.
// Missing sessions are not an error.
func (s *SessionStore) Invalidate(ctx context.Context, principalID, sessionID string) error {
	if principalID == "" && sessionID != "" {
		pid, err := s.client.Get(ctx, s.idKey(sessionID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis resolve session: %w", err)
		}
		principalID = pid
	}
	if principalID == "" {
		return nil
	}

	sess, err := s.load(ctx, principalID)
	if errors.Is(err, domainauth.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// A stale id leaves the principal's newer session alone.
	if sessionID != "" && sessionID != sess.ID {
		if err := s.client.Del(ctx, s.idKey(sessionID)).Err(); err != nil {
			return fmt.Errorf("redis delete session id: %w", err)
		}
		return nil
	}
	_, err = s.delete(ctx, principalID, sess.ID)
	return err
}

// GetInfo returns the principal's active session.
func (s *SessionStore) GetInfo(ctx context.Context, principalID string) (domainauth.Session, error) {
	if principalID == "" {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	sess, err := s.load(ctx, principalID)
	if err != nil {
		return domainauth.Session{}, err
	}
	if !sess.IsActive {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	return sess, nil
}

// GetBySessionID returns the active session with the given id.
func (s *SessionStore) GetBySessionID(ctx context.Context, sessionID string) (domainauth.Session, error) {
	if sessionID == "" {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	pid, err := s.client.Get(ctx, s.idKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("redis get session id: %w", err)
	}
	sess, err := s.GetInfo(ctx, pid)
	if err != nil {
		return domainauth.Session{}, err
	}
	if sess.ID != sessionID {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	return sess, nil
}

// CleanExpired removes every session whose expiry is at or before now.
func (s *SessionStore) CleanExpired(ctx context.Context, now time.Time) (int, error) {
	pids, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(expiryScore(now), 'f', 0, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scan expiry index: %w", err)
	}

	removed := 0
	var errs []error
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sess, err := s.load(ctx, pid)
		switch {
		case errors.Is(err, domainauth.ErrSessionNotFound):
			// Key already gone through TTL; drop the dangling index entry.
			if _, err := s.delete(ctx, pid, ""); err != nil {
				errs = append(errs, err)
			}
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		case sess.ExpiresAt.After(now):
			continue
		}
		existed, err := s.delete(ctx, pid, sess.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existed {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (s *SessionStore) delete(ctx context.Context, principalID, sessionID string) (bool, error) {
	keys := []string{s.userKey(principalID), s.idKey(sessionID), s.expiryKey()}
	n, err := deleteSessionLua.Run(ctx, s.client, keys, principalID, sessionID).Int64()
	if err != nil {
		return false, fmt.Errorf("redis delete session: %w", err)
	}
	return n == 1, nil
}

func (s *SessionStore) load(ctx context.Context, principalID string) (domainauth.Session, error) {
	return s.decode(s.client.Get(ctx, s.userKey(principalID)))
}

func (s *SessionStore) decode(cmd *redis.StringCmd) (domainauth.Session, error) {
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("redis get session: %w", err)
	}
	var sess domainauth.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

func recordTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + expiredGrace
}

func expiryScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}
