// Package sqlite implements the storage boundary on a single SQLite database.
//
// One database file holds the event log, projection records, and checkpoints,
// which lets inline projections and batch-plus-checkpoint writes share a
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/platform/storage/sqlitemigrate"
	"github.com/averill/shopstream/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed event log and projection persistence.
type Store struct {
	sqlDB    *sql.DB
	registry *event.Registry
}

// Option configures a Store.
type Option func(*Store)

// WithRegistry replaces the event registry used to validate appends.
func WithRegistry(registry *event.Registry) Option {
	return func(s *Store) {
		s.registry = registry
	}
}

// Open opens the SQLite store and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB:    sqlDB,
		registry: event.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so shared query helpers work
// inside and outside transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
