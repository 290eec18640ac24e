package tabsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix префикс subject для событий аутентификации
const SubjectPrefix = "edusession.auth."

// NATSTransport доставляет события между процессами через core NATS pub/sub.
// Доставка at-most-once: пропущенное событие не страшно, следующее все равно
// означает "перечитай состояние".
type NATSTransport struct {
	conn    *nats.Conn
	subject string
}

// NewNATSTransport создает транспорт поверх готового соединения
func NewNATSTransport(conn *nats.Conn, namespace string) *NATSTransport {
	if namespace == "" {
		namespace = "default"
	}
	return &NATSTransport{conn: conn, subject: SubjectPrefix + namespace}
}

// DialNATS подключается к url с переподключением без ограничения попыток
func DialNATS(url string, opts ...nats.Option) (*nats.Conn, error) {
	opts = append([]nats.Option{nats.Name("edusession"), nats.MaxReconnects(-1)}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// Subject возвращает subject транспорта
func (t *NATSTransport) Subject() string {
	return t.subject
}

// Publish кодирует событие в JSON и публикует его
func (t *NATSTransport) Publish(ctx context.Context, ev Event) error {
	if t == nil || t.conn == nil {
		return errors.New("nil nats transport")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return t.conn.Publish(t.subject, data)
}

type natsSubscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *natsSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Unsubscribe()
}

// Subscribe подписывается на subject; нераспознанные сообщения пропускаются
func (t *NATSTransport) Subscribe(ctx context.Context, fn func(Event)) (io.Closer, error) {
	if t == nil || t.conn == nil {
		return nil, errors.New("nil nats transport")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	sub, err := t.conn.Subscribe(t.subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.subject, err)
	}

	s := &natsSubscription{sub: sub}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}
