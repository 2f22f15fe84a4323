package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

type messagesRepo Store

const messageColumns = "id, author_id, room_id, peer_user_id, content, edited, deleted, created_at, updated_at"

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var (
		m      domain.Message
		roomID *string
		peerID *string
	)
	err := row.Scan(&m.ID, &m.AuthorID, &roomID, &peerID, &m.Content, &m.Edited, &m.Deleted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, mapError(err)
	}
	if roomID != nil {
		m.Target = types.RoomTarget(types.RoomID(*roomID))
	} else if peerID != nil {
		m.Target = types.DirectTarget(types.UserID(*peerID))
	}
	return m, nil
}

func targetColumns(target types.MessageTarget) (roomID, peerID *string) {
	if target.IsRoom() {
		s := string(target.RoomID)
		return &s, nil
	}
	s := string(target.PeerUserID)
	return nil, &s
}

func (r *messagesRepo) Insert(ctx context.Context, m domain.Message) error {
	roomID, peerID := targetColumns(m.Target)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages (id, author_id, room_id, peer_user_id, content, edited, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.AuthorID, roomID, peerID, m.Content, m.Edited, m.Deleted, m.CreatedAt, m.UpdatedAt)
	return mapError(err)
}

func (r *messagesRepo) UpdateContent(ctx context.Context, id types.MessageID, content types.MessageContent) (domain.Message, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE messages SET content = $2, edited = true, updated_at = $3
		WHERE id = $1 AND NOT deleted
		RETURNING `+messageColumns,
		id, content, time.Now().UTC())
	return scanMessage(row)
}

// Delete tombstones the record; reads skip it from then on.
func (r *messagesRepo) Delete(ctx context.Context, id types.MessageID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE messages SET deleted = true, updated_at = $2 WHERE id = $1 AND NOT deleted", id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *messagesRepo) Get(ctx context.Context, id types.MessageID) (domain.Message, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1 AND NOT deleted", id)
	return scanMessage(row)
}

func (r *messagesRepo) ListByTarget(ctx context.Context, viewer types.UserID, target types.MessageTarget, p types.Pagination) ([]domain.Message, error) {
	conds := []string{"NOT deleted"}
	args := []any{}
	if target.IsRoom() {
		args = append(args, target.RoomID)
		conds = append(conds, fmt.Sprintf("room_id = $%d", len(args)))
	} else {
		// Both directions of the pair: viewer->peer and peer->viewer.
		args = append(args, viewer, target.PeerUserID)
		conds = append(conds, fmt.Sprintf(
			"((author_id = $%[1]d AND peer_user_id = $%[2]d) OR (author_id = $%[2]d AND peer_user_id = $%[1]d))",
			len(args)-1, len(args)))
	}
	if p.Cursor != nil {
		conds = append(conds, cursorCond(p.Direction, "created_at", "id", len(args)+1))
		args = append(args, p.Cursor.Timestamp, p.Cursor.ID)
	}

	query := "SELECT " + messageColumns + " FROM messages WHERE " + strings.Join(conds, " AND ")
	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
	args = append(args, pageLimit(p))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, mapError(rows.Err())
}
