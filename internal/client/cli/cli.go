// Package cli реализует команды sessionctl поверх session.Manager.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/edusession/internal/client/iocli"
	"github.com/iudanet/edusession/internal/client/session"
)

// PasswordEnv переменная окружения с паролем для неинтерактивного входа
const PasswordEnv = "EDUSESSION_PASSWORD"

// Passwords источники пароля для входа
type Passwords struct {
	FromFile string
	FromArgs string
}

type Cli struct {
	io      iocli.IO
	manager *session.Manager
	clock   clockwork.Clock
	baseURL string
}

// Option настраивает Cli
type Option func(*Cli)

// WithClock подменяет часы, по которым считается оставшееся время токена
func WithClock(c clockwork.Clock) Option {
	return func(cli *Cli) { cli.clock = c }
}

// New создает Cli. baseURL нужен командам, которые сами ходят в API (whoami).
func New(io iocli.IO, manager *session.Manager, baseURL string, opts ...Option) *Cli {
	c := &Cli{
		io:      io,
		manager: manager,
		clock:   clockwork.NewRealClock(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getPassword возвращает пароль из источников по приоритету:
// 1. переменная окружения EDUSESSION_PASSWORD
// 2. файл
// 3. параметр командной строки
// 4. интерактивный ввод
func (c *Cli) getPassword(passwords Passwords) (string, error) {
	if envPassword := os.Getenv(PasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	if passwords.FromFile != "" {
		content, err := os.ReadFile(passwords.FromFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		password := strings.TrimSpace(string(content))
		if password == "" {
			return "", errors.New("password file is empty")
		}
		return password, nil
	}

	if passwords.FromArgs != "" {
		return passwords.FromArgs, nil
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	return password, nil
}

func (c *Cli) requireSession() (session.Session, error) {
	s := c.manager.Session()
	if !s.Authenticated() {
		return s, errors.New("not authenticated. Please run 'sessionctl login' first")
	}
	return s, nil
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	return d.Round(time.Second).String()
}
