package postgres

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

type membershipsRepo Store

func scanMembership(row interface{ Scan(...any) error }) (domain.RoomMembership, error) {
	var m domain.RoomMembership
	err := row.Scan(&m.RoomID, &m.UserID, &m.Role, &m.JoinedAt)
	return m, mapError(err)
}

func (r *membershipsRepo) Add(ctx context.Context, roomID types.RoomID, userID types.UserID, role types.MembershipRole) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO room_memberships (room_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`,
		roomID, userID, role, time.Now().UTC())
	return mapError(err)
}

func (r *membershipsRepo) Remove(ctx context.Context, roomID types.RoomID, userID types.UserID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM room_memberships WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *membershipsRepo) Get(ctx context.Context, roomID types.RoomID, userID types.UserID) (domain.RoomMembership, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT room_id, user_id, role, joined_at FROM room_memberships
		WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return scanMembership(row)
}

func (r *membershipsRepo) ListMembers(ctx context.Context, roomID types.RoomID) ([]domain.RoomMembership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, user_id, role, joined_at FROM room_memberships
		WHERE room_id = $1 ORDER BY joined_at ASC, user_id ASC`, roomID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.RoomMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, mapError(rows.Err())
}

func (r *membershipsRepo) ListRoomsOf(ctx context.Context, userID types.UserID) ([]domain.RoomMembership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, user_id, role, joined_at FROM room_memberships
		WHERE user_id = $1 ORDER BY joined_at ASC, room_id ASC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.RoomMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, mapError(rows.Err())
}

func (r *membershipsRepo) Count(ctx context.Context, roomID types.RoomID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT count(*) FROM room_memberships WHERE room_id = $1", roomID).Scan(&n)
	return n, mapError(err)
}

// TransferOwner demotes the current owner to moderator and promotes the new
// owner, atomically, preserving the at-most-one-owner invariant.
func (r *membershipsRepo) TransferOwner(ctx context.Context, roomID types.RoomID, newOwner types.UserID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE room_memberships SET role = $2 WHERE room_id = $1 AND role = $3`,
		roomID, types.MembershipModerator, types.MembershipOwner); err != nil {
		return mapError(err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE room_memberships SET role = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, newOwner, types.MembershipOwner)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.Exec(ctx, "UPDATE rooms SET owner_id = $2 WHERE id = $1", roomID, newOwner); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}
