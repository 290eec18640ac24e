package tabsync

import (
	"context"
	"io"
	"sync"
)

// Hub транспорт внутри одного процесса. Каждый подписчик получает события
// асинхронно в порядке публикации; медленный подписчик не блокирует остальных.
type Hub struct {
	subs map[int]*hubSub
	next int
	mu   sync.Mutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*hubSub)}
}

// Publish ставит событие в очередь каждому подписчику
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	subs := make([]*hubSub, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
	return nil
}

// Subscribe регистрирует fn
func (h *Hub) Subscribe(ctx context.Context, fn func(Event)) (io.Closer, error) {
	s := &hubSub{fn: fn, wake: make(chan struct{}, 1), done: make(chan struct{})}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = s
	h.mu.Unlock()

	go s.run()

	var once sync.Once
	closeSub := func() error {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(s.done)
		})
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = closeSub()
		case <-s.done:
		}
	}()

	return closerFunc(closeSub), nil
}

type hubSub struct {
	fn    func(Event)
	wake  chan struct{}
	done  chan struct{}
	queue []Event
	mu    sync.Mutex
}

func (s *hubSub) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *hubSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}
