package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/storage/memory"
	"github.com/lairchat/server/internal/v1/types"
)

func TestCreateValidateLogout(t *testing.T) {
	ctx := context.Background()
	repos := memory.New().Repositories()
	m := New(repos.Sessions)
	userID := types.NewUserID()

	sess, err := m.Create(ctx, userID, types.ProtocolHTTP, "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Validate(ctx, sess.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := m.Logout(ctx, sess.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := m.Validate(ctx, sess.ID); err == nil {
		t.Fatal("expected validate to fail after logout")
	}
}

func TestTouchDoesNotExtendExpiry(t *testing.T) {
	ctx := context.Background()
	repos := memory.New().Repositories()
	m := New(repos.Sessions)
	sess, err := m.Create(ctx, types.NewUserID(), types.ProtocolFramed, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := sess.ExpiresAt
	if err := m.Touch(ctx, sess.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	after, err := m.Validate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !after.ExpiresAt.Equal(before) {
		t.Fatal("expected touch not to change expires_at")
	}
}

func TestRefreshExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	repos := memory.New().Repositories()
	m := New(repos.Sessions)
	sess, err := m.Create(ctx, types.NewUserID(), types.ProtocolFramed, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	refreshed, err := m.Refresh(ctx, sess.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed.ExpiresAt.After(sess.ExpiresAt) {
		t.Fatal("expected refresh to push expires_at forward")
	}
}

func TestValidateExpiredSession(t *testing.T) {
	ctx := context.Background()
	repos := memory.New().Repositories()
	m := New(repos.Sessions)
	m.ttl = -time.Hour
	sess, err := m.Create(ctx, types.NewUserID(), types.ProtocolFramed, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = m.Validate(ctx, sess.ID)
	ae, ok := apperr.As(err)
	if !ok || ae.Code != apperr.CodeSessionExpired {
		t.Fatalf("expected session_expired, got %v", err)
	}
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	repos := memory.New().Repositories()
	m := New(repos.Sessions)
	user := types.NewUserID()
	if _, err := m.Create(ctx, user, types.ProtocolFramed, "", ""); err != nil {
		t.Fatalf("create live: %v", err)
	}
	m.ttl = -time.Hour
	if _, err := m.Create(ctx, user, types.ProtocolFramed, "", ""); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	n, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	live, err := m.CountLiveForUser(ctx, user)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if live != 1 {
		t.Fatalf("expected 1 live session, got %d", live)
	}
}
