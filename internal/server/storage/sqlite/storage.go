// Package sqlite implements account and refresh token storage of the dev gateway.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// WAL: параллельные читатели при одном писателе
var pragmas = []string{
	"journal_mode = WAL",
	"synchronous = NORMAL",
	"foreign_keys = ON",
	"busy_timeout = 5000",
}

// Storage хранит учетные записи и refresh токены шлюза
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option настраивает Storage
type Option func(*Storage)

// WithLogger пишет примененные миграции в logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// New открывает базу dbPath и доводит схему до последней версии.
// ":memory:" подходит для тестов: соединение одно, база живет до Close.
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Storage{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return s, nil
}

func (s *Storage) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, "PRAGMA "+p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return s.migrate(ctx)
}

func (s *Storage) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	for _, r := range results {
		s.logger.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("file", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// Close закрывает базу
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping проверяет доступность базы (для health check)
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
