package domain

import (
	"testing"
	"time"
)

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now.Add(-time.Minute)}
	if !s.Expired(now) {
		t.Fatal("expected session to be expired")
	}
	s.ExpiresAt = now.Add(time.Minute)
	if s.Expired(now) {
		t.Fatal("expected session to still be valid")
	}
}

func TestInvitationExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	inv := Invitation{ExpiresAt: now.Add(-time.Second)}
	if !inv.Expired(now) {
		t.Fatal("expected invitation to be expired")
	}
	inv.ExpiresAt = now.Add(time.Hour)
	if inv.Expired(now) {
		t.Fatal("expected invitation to still be acceptable")
	}
}
