package session

import (
	"testing"
	"time"
)

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Fatalf("session should be valid")
	}
	if got := s.TTL(now); got != time.Minute {
		t.Fatalf("expected 1m ttl, got %s", got)
	}
	if !s.Expired(now.Add(time.Minute)) {
		t.Fatalf("session should expire at ExpiresAt")
	}
	if s.TTL(now.Add(2*time.Minute)) != 0 {
		t.Fatalf("expected zero ttl after expiry")
	}
	if (Session{}).Expired(now) {
		t.Fatalf("session without expiry never expires")
	}
}
