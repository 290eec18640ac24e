// Package sqlite хранит сессию в файле SQLite, который могут разделять
// несколько процессов одного пользователя.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Storage represents SQLite storage implementation for client
type Storage struct {
	db     *sql.DB
	clock  clockwork.Clock
	origin string
}

// Option настраивает Storage
type Option func(*Storage)

// WithOrigin задает идентификатор контекста, который записывается вместе с каждой ревизией
func WithOrigin(origin string) Option {
	return func(s *Storage) {
		s.origin = origin
	}
}

// WithClock подменяет часы для Watch
func WithClock(clock clockwork.Clock) Option {
	return func(s *Storage) {
		s.clock = clock
	}
}

// New открывает базу и применяет миграции
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Storage{db: db, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	_, err = provider.Up(ctx)
	return err
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// withTx выполняет fn в транзакции и увеличивает ревизию
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE auth_revision SET revision = revision + 1, origin = ? WHERE id = 1`, s.origin); err != nil {
		return fmt.Errorf("failed to bump revision: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
