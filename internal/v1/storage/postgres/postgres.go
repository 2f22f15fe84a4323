// Package postgres implements the storage contract on PostgreSQL via a pgx
// connection pool. Schema migrations are embedded in the binary and applied
// on Open, recorded in golang-migrate's schema_migrations table: append-only,
// ascending numeric prefix, idempotent re-application.
package postgres

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for the migration runner

	"github.com/lairchat/server/internal/v1/storage"
)

//go:embed migrations
var migrationsFS embed.FS

// Store owns the connection pool every repository shares.
type Store struct {
	pool *pgxpool.Pool
}

// Open applies pending migrations and opens the connection pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Repositories returns the full capability set backed by this pool.
func (s *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Users:       (*usersRepo)(s),
		Rooms:       (*roomsRepo)(s),
		Memberships: (*membershipsRepo)(s),
		Messages:    (*messagesRepo)(s),
		Sessions:    (*sessionsRepo)(s),
		Invitations: (*invitationsRepo)(s),
	}
}

// Ping satisfies health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// mapError translates driver errors onto the storage sentinel set the engine
// matches against.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}
