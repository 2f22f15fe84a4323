package postgres

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

type invitationsRepo Store

const invitationColumns = "id, room_id, inviter_id, invitee_id, status, message, created_at, responded_at, expires_at"

func scanInvitation(row interface{ Scan(...any) error }) (domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(&inv.ID, &inv.RoomID, &inv.InviterID, &inv.InviteeID, &inv.Status, &inv.Message, &inv.CreatedAt, &inv.RespondedAt, &inv.ExpiresAt)
	return inv, mapError(err)
}

func (r *invitationsRepo) Create(ctx context.Context, inv domain.Invitation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invitations (id, room_id, inviter_id, invitee_id, status, message, created_at, responded_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.RoomID, inv.InviterID, inv.InviteeID, inv.Status, inv.Message, inv.CreatedAt, inv.RespondedAt, inv.ExpiresAt)
	return mapError(err)
}

func (r *invitationsRepo) FindByID(ctx context.Context, id types.InvitationID) (domain.Invitation, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+invitationColumns+" FROM invitations WHERE id = $1", id)
	return scanInvitation(row)
}

func (r *invitationsRepo) ListForInvitee(ctx context.Context, userID types.UserID) ([]domain.Invitation, error) {
	return r.list(ctx, "invitee_id", string(userID))
}

func (r *invitationsRepo) ListForRoom(ctx context.Context, roomID types.RoomID) ([]domain.Invitation, error) {
	return r.list(ctx, "room_id", string(roomID))
}

func (r *invitationsRepo) list(ctx context.Context, column, value string) ([]domain.Invitation, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+invitationColumns+" FROM invitations WHERE "+column+" = $1 ORDER BY created_at ASC, id ASC", value)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, mapError(rows.Err())
}

// TransitionStatus is the atomic compare-and-set: the UPDATE's
// WHERE status = from is evaluated under row-level locking, so exactly one
// of two concurrent transitions wins; the loser sees zero rows.
func (r *invitationsRepo) TransitionStatus(ctx context.Context, id types.InvitationID, from, to types.InvitationStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invitations SET status = $3, responded_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM invitations WHERE id = $1)", id).Scan(&exists); err != nil {
			return mapError(err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrCASMismatch
	}
	return nil
}
