package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const tableKV = "kv"

const (
	kvFieldKey       = "key"
	kvFieldValue     = "value"
	kvFieldUpdatedAt = "updated_at"
)

// SQLite is the durable local store.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql db: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping sql db: %w", err)
	}

	err = migrateUp(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func migrateUp(ctx context.Context, db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migration: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get current active migration version: %w", err)
	}

	slog.InfoContext(ctx, "kvstore migration applied", "version", version, "dirty", dirty)

	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	q := sq.Select(kvFieldValue).
		From(tableKV).
		Where(sq.Eq{kvFieldKey: key}).
		RunWith(s.db)

	var value string

	err := q.QueryRowContext(ctx).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("failed to scan row: %w", err)
	}

	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	q := sq.Insert(tableKV).
		Columns(kvFieldKey, kvFieldValue, kvFieldUpdatedAt).
		Values(key, value, time.Now().UTC()).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		RunWith(s.db)

	_, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec upsert: %w", err)
	}

	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	q := sq.Delete(tableKV).
		Where(sq.Eq{kvFieldKey: key}).
		RunWith(s.db)

	_, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec delete: %w", err)
	}

	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
