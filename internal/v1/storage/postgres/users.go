package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

type usersRepo Store

const userColumns = "id, username, email, password_hash, role, created_at, updated_at, last_seen"

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt, &u.LastSeen)
	return u, mapError(err)
}

func (r *usersRepo) Create(ctx context.Context, u domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_at, updated_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt, u.LastSeen)
	return mapError(err)
}

func (r *usersRepo) FindByID(ctx context.Context, id types.UserID) (domain.User, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

func (r *usersRepo) FindByUsernameCI(ctx context.Context, username string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE lower(username) = lower($1)", username)
	return scanUser(row)
}

func (r *usersRepo) FindByEmailCI(ctx context.Context, email string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email)
	return scanUser(row)
}

func (r *usersRepo) Update(ctx context.Context, u domain.User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET username = $2, email = $3, password_hash = $4, role = $5, updated_at = $6, last_seen = $7
		WHERE id = $1`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.UpdatedAt, u.LastSeen)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *usersRepo) TouchLastSeen(ctx context.Context, id types.UserID) error {
	tag, err := r.pool.Exec(ctx, "UPDATE users SET last_seen = $2 WHERE id = $1", id, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *usersRepo) List(ctx context.Context, p types.Pagination) ([]domain.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	args := []any{}
	if p.Cursor != nil {
		query += " WHERE " + cursorCond(p.Direction, "created_at", "id", len(args)+1)
		args = append(args, p.Cursor.Timestamp, p.Cursor.ID)
	}
	query += " ORDER BY created_at ASC, id ASC"
	query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
	args = append(args, pageLimit(p))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, mapError(rows.Err())
}
