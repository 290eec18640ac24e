// Package tabsync рассылает изменения состояния аутентификации между
// контекстами (вкладками, процессами), которые делят одно хранилище.
//
// Событие означает только "перечитай текущее состояние": его полезная
// нагрузка не содержит токенов.
package tabsync

import (
	"context"
	"io"
	"time"
)

// Kind вид изменения
type Kind string

const (
	KindLogin   Kind = "login"
	KindRefresh Kind = "refresh"
	KindLogout  Kind = "logout"
	KindProfile Kind = "profile"
	// KindChanged приходит от транспортов, которые видят запись, но не ее смысл
	KindChanged Kind = "changed"
)

// Event уведомление об изменении
type Event struct {
	At     time.Time `json:"at"`
	Kind   Kind      `json:"kind"`
	Source string    `json:"source"` // ID контекста, который сделал изменение
}

// Transport доставляет события между контекстами
type Transport interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe вызывает fn для каждого события до Close или отмены ctx
	Subscribe(ctx context.Context, fn func(Event)) (io.Closer, error)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
