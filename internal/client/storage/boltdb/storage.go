// Package boltdb хранит сессию в одном файле bbolt. Файл блокируется
// эксклюзивно, поэтому бэкенд рассчитан на один процесс.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/iudanet/edusession/internal/client/storage"
)

// DefaultLockTimeout сколько New ждет блокировку файла
const DefaultLockTimeout = time.Second

var (
	bucketAuth    = []byte("auth")
	bucketProfile = []byte("profile")
)

type Storage struct {
	db     *bbolt.DB
	closed atomic.Bool
}

// Option настраивает открытие файла
type Option func(*bbolt.Options)

// WithLockTimeout задает ожидание блокировки; 0 - ждать бесконечно
func WithLockTimeout(d time.Duration) Option {
	return func(o *bbolt.Options) { o.Timeout = d }
}

// New открывает или создает файл dbPath. Если файл занят другим процессом
// дольше таймаута, возвращает storage.ErrStorageLocked.
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := &bbolt.Options{Timeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(options)
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("%s: %w", dbPath, storage.ErrStorageLocked)
		}
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}
	if err := s.update(initBuckets); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

// Close освобождает файл; повторный вызов ничего не делает
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) update(fn func(*bbolt.Tx) error) error {
	return closedErr(s.db.Update(fn))
}

func (s *Storage) view(fn func(*bbolt.Tx) error) error {
	return closedErr(s.db.View(fn))
}

func closedErr(err error) error {
	if errors.Is(err, berrors.ErrDatabaseNotOpen) {
		return storage.ErrStorageClosed
	}
	return err
}

func initBuckets(tx *bbolt.Tx) error {
	for _, name := range [][]byte{bucketAuth, bucketProfile} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", name, err)
		}
	}
	return nil
}
