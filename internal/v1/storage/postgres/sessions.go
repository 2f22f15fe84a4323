package postgres

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

type sessionsRepo Store

const sessionColumns = "id, user_id, protocol, ip, user_agent, created_at, expires_at, last_active_at"

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.Protocol, &s.IP, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt, &s.LastActiveAt)
	return s, mapError(err)
}

func (r *sessionsRepo) Create(ctx context.Context, sess domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, protocol, ip, user_agent, created_at, expires_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.UserID, sess.Protocol, sess.IP, sess.UserAgent, sess.CreatedAt, sess.ExpiresAt, sess.LastActiveAt)
	return mapError(err)
}

func (r *sessionsRepo) FindByIDAndToken(ctx context.Context, id types.SessionID) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	return scanSession(row)
}

func (r *sessionsRepo) Touch(ctx context.Context, id types.SessionID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE sessions SET last_active_at = $2 WHERE id = $1", id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) Refresh(ctx context.Context, id types.SessionID, newExpiry time.Time) error {
	tag, err := r.pool.Exec(ctx, "UPDATE sessions SET expires_at = $2, last_active_at = $3 WHERE id = $1", id, newExpiry, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) Delete(ctx context.Context, id types.SessionID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= $1", time.Now().UTC())
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionsRepo) CountLiveForUser(ctx context.Context, userID types.UserID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT count(*) FROM sessions WHERE user_id = $1 AND expires_at > $2", userID, time.Now().UTC()).Scan(&n)
	return n, mapError(err)
}
