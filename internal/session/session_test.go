package session

import (
	"testing"
	"time"
)

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := New()
	s.Create("sess-1", []byte("login-secret"))

	entry, ok := s.Get("sess-1")
	if !ok {
		t.Fatalf("expected session to be found")
	}
	if string(entry.LoginSecret) != "login-secret" {
		t.Fatalf("LoginSecret = %q, want %q", entry.LoginSecret, "login-secret")
	}
}

func TestGetUnknownSessionReturnsFalse(t *testing.T) {
	s := New()

	if _, ok := s.Get("no-such-session"); ok {
		t.Fatalf("expected unknown session to be absent")
	}
}

func TestGetExpiredSessionSelfCleans(t *testing.T) {
	s := New()
	fixed := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return fixed }
	s.Create("sess-1", []byte("login-secret"))

	s.now = func() time.Time { return fixed.Add(TTL + time.Second) }

	if _, ok := s.Get("sess-1"); ok {
		t.Fatalf("expected expired session to be rejected")
	}

	s.mu.Lock()
	_, stillPresent := s.entries["sess-1"]
	s.mu.Unlock()
	if stillPresent {
		t.Fatalf("expected expired session to be removed from the map")
	}
}

func TestDestroyRemovesSession(t *testing.T) {
	s := New()
	s.Create("sess-1", []byte("login-secret"))
	s.Destroy("sess-1")

	if _, ok := s.Get("sess-1"); ok {
		t.Fatalf("expected destroyed session to be absent")
	}
}

func TestCleanupExpiredRemovesOnlyExpiredEntries(t *testing.T) {
	s := New()
	fixed := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return fixed }

	s.Create("expiring", []byte("secret-a"))

	s.now = func() time.Time { return fixed.Add(TTL + time.Second) }
	s.Create("fresh", []byte("secret-b"))

	removed := s.CleanupExpired()
	if removed != 1 {
		t.Fatalf("CleanupExpired removed %d entries, want 1", removed)
	}

	if _, ok := s.Get("fresh"); !ok {
		t.Fatalf("expected fresh session to survive cleanup")
	}
}
