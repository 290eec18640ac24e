package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/edusession/internal/client/storage"
)

// Revision возвращает текущую ревизию и контекст, сделавший последнюю запись
func (s *Storage) Revision(ctx context.Context) (storage.Change, error) {
	var c storage.Change
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, origin FROM auth_revision WHERE id = 1`).Scan(&c.Revision, &c.Origin)
	if err != nil {
		return storage.Change{}, fmt.Errorf("failed to read revision: %w", err)
	}
	return c, nil
}

// Watch опрашивает ревизию каждые interval и вызывает fn для каждой новее since.
// Первая проверка сразу, без ожидания тика. Блокируется до отмены ctx.
// Ошибки чтения пропускаются до следующего тика.
func (s *Storage) Watch(ctx context.Context, since int64, interval time.Duration, fn func(storage.Change)) error {
	last := storage.Change{Revision: since}
	poll := func() {
		cur, err := s.Revision(ctx)
		if err != nil || cur.Revision == last.Revision {
			return
		}
		last = cur
		fn(cur)
	}
	poll()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			poll()
		}
	}
}

var _ storage.Watcher = (*Storage)(nil)
