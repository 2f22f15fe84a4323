package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

type roomsRepo Store

const roomColumns = "id, name, description, owner_id, private, max_members, created_at, updated_at"

func scanRoom(row interface{ Scan(...any) error }) (domain.Room, error) {
	var rm domain.Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Description, &rm.OwnerID, &rm.Private, &rm.MaxMembers, &rm.CreatedAt, &rm.UpdatedAt)
	return rm, mapError(err)
}

func (r *roomsRepo) Create(ctx context.Context, rm domain.Room) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, description, owner_id, private, max_members, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rm.ID, rm.Name, rm.Description, rm.OwnerID, rm.Private, rm.MaxMembers, rm.CreatedAt, rm.UpdatedAt)
	return mapError(err)
}

func (r *roomsRepo) FindByID(ctx context.Context, id types.RoomID) (domain.Room, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id)
	return scanRoom(row)
}

func (r *roomsRepo) FindByNameCI(ctx context.Context, name string) (domain.Room, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE lower(name) = lower($1)", name)
	return scanRoom(row)
}

func (r *roomsRepo) Update(ctx context.Context, rm domain.Room) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET name = $2, description = $3, owner_id = $4, private = $5, max_members = $6, updated_at = $7
		WHERE id = $1`,
		rm.ID, rm.Name, rm.Description, rm.OwnerID, rm.Private, rm.MaxMembers, rm.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCascade removes the room and everything hanging off it in one
// transaction: invitations, memberships, room messages, then the room
// record. Readers never observe a partially-applied cascade.
func (r *roomsRepo) DeleteCascade(ctx context.Context, id types.RoomID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		"DELETE FROM invitations WHERE room_id = $1",
		"DELETE FROM room_memberships WHERE room_id = $1",
		"DELETE FROM messages WHERE room_id = $1",
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return mapError(err)
		}
	}
	tag, err := tx.Exec(ctx, "DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return mapError(tx.Commit(ctx))
}

func (r *roomsRepo) List(ctx context.Context, p types.Pagination, filter storage.RoomFilter) ([]domain.Room, error) {
	var conds []string
	args := []any{}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Private != nil {
		args = append(args, *filter.Private)
		conds = append(conds, fmt.Sprintf("private = $%d", len(args)))
	}
	if p.Cursor != nil {
		conds = append(conds, cursorCond(p.Direction, "created_at", "id", len(args)+1))
		args = append(args, p.Cursor.Timestamp, p.Cursor.ID)
	}

	query := "SELECT " + roomColumns + " FROM rooms"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
	args = append(args, pageLimit(p))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, mapError(rows.Err())
}
