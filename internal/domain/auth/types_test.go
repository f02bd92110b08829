package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"admin":      RoleAdmin,
		" Moderator": RoleModerator,
		"user":       RoleUser,
		"owner":      RoleUser,
		"":           RoleUser,
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Fatalf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCacheEntry_Expired(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := CacheEntry{Timestamp: t0, TTL: 5 * time.Minute}

	if e.Expired(t0.Add(5*time.Minute - time.Nanosecond)) {
		t.Fatal("entry must be live just before ttl")
	}
	if !e.Expired(t0.Add(5 * time.Minute)) {
		t.Fatal("entry must be expired at exactly ttl")
	}
}

func TestSession_ExpiredAtAndRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now.Add(time.Hour)}
	if s.ExpiredAt(now) {
		t.Fatal("session should be live")
	}
	if s.Remaining(now) != time.Hour {
		t.Fatalf("unexpected remaining %v", s.Remaining(now))
	}

	s.ExpiresAt = now
	if !s.ExpiredAt(now) {
		t.Fatal("expiresAt == now must be expired")
	}
	if s.Remaining(now) != 0 {
		t.Fatal("expired session has no remaining time")
	}
}

func TestAdminVerification_Degraded(t *testing.T) {
	if !(AdminVerification{Method: MethodFallback}).Degraded() {
		t.Fatal("fallback must be degraded")
	}
	if (AdminVerification{Method: MethodDurableStore}).Degraded() {
		t.Fatal("durable-store must not be degraded")
	}
}

func TestIsStoreError(t *testing.T) {
	if !IsStoreError(fmt.Errorf("lookup: %w", ErrRLS)) {
		t.Fatal("wrapped RLS error must be a store error")
	}
	if IsStoreError(ErrInvalidCredentials) {
		t.Fatal("credential errors are not store errors")
	}
	if IsStoreError(errors.New("boom")) {
		t.Fatal("unclassified errors are not store errors")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if NormalizeEmail("  Chef@Lanterna.Example ") != "chef@lanterna.example" {
		t.Fatal("email not normalised")
	}
}
