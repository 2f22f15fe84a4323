// Package sessionmgr is the session lifecycle manager:
// creation, touch, refresh, logout, and expiration sweeps, layered over the
// session repository.
package sessionmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// DefaultTTL is how long a freshly created or refreshed session remains
// valid before it must be refreshed again.
const DefaultTTL = 24 * time.Hour

// Manager owns session lifecycle operations against the storage contract.
type Manager struct {
	sessions storage.Sessions
	ttl      time.Duration
}

// New builds a Manager with the default TTL.
func New(sessions storage.Sessions) *Manager {
	return &Manager{sessions: sessions, ttl: DefaultTTL}
}

// Create starts a new session for userID over the given protocol.
func (m *Manager) Create(ctx context.Context, userID types.UserID, protocol types.Protocol, ip, userAgent string) (domain.Session, error) {
	now := time.Now().UTC()
	sess := domain.Session{
		ID:           types.NewSessionID(),
		UserID:       userID,
		Protocol:     protocol,
		IP:           ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastActiveAt: now,
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("sessionmgr: create: %w", err)
	}
	return sess, nil
}

// Validate loads a session and confirms it has not expired. Touching is a
// separate, explicit step: callers decide whether a read-only lookup should
// extend last_active_at.
func (m *Manager) Validate(ctx context.Context, id types.SessionID) (domain.Session, error) {
	sess, err := m.sessions.FindByIDAndToken(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return domain.Session{}, apperr.New(apperr.CodeSessionNotFound, "session not found")
		}
		return domain.Session{}, apperr.Internal()
	}
	if sess.Expired(time.Now().UTC()) {
		return domain.Session{}, apperr.New(apperr.CodeSessionExpired, "session has expired")
	}
	return sess, nil
}

// Touch extends last_active_at without changing expires_at.
func (m *Manager) Touch(ctx context.Context, id types.SessionID) error {
	if err := m.sessions.Touch(ctx, id); err != nil {
		logging.Warn(ctx, "sessionmgr: touch failed")
		return apperr.Internal()
	}
	return nil
}

// Refresh issues a new expires_at, explicitly extending the session.
func (m *Manager) Refresh(ctx context.Context, id types.SessionID) (domain.Session, error) {
	sess, err := m.Validate(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	newExpiry := time.Now().UTC().Add(m.ttl)
	if err := m.sessions.Refresh(ctx, id, newExpiry); err != nil {
		return domain.Session{}, apperr.Internal()
	}
	sess.ExpiresAt = newExpiry
	return sess, nil
}

// Logout destroys a session.
func (m *Manager) Logout(ctx context.Context, id types.SessionID) error {
	if err := m.sessions.Delete(ctx, id); err != nil && err != storage.ErrNotFound {
		return apperr.Internal()
	}
	return nil
}

// CountLiveForUser reports how many live sessions a user currently holds
// in the session store.
func (m *Manager) CountLiveForUser(ctx context.Context, userID types.UserID) (int, error) {
	n, err := m.sessions.CountLiveForUser(ctx, userID)
	if err != nil {
		return 0, apperr.Internal()
	}
	return n, nil
}

// SweepExpired deletes all expired sessions, returning the count removed.
// Intended to be called periodically by cmd/server.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, apperr.Internal()
	}
	if n > 0 {
		logging.Info(ctx, fmt.Sprintf("sessionmgr: swept %d expired sessions", n))
	}
	return n, nil
}
