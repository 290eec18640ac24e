// Package config загружает настройки sessionctl и authstub из окружения.
//
// Все переменные имеют префикс EDUSESSION_. Файл .env в рабочем каталоге
// подхватывается, если есть; уже заданные переменные окружения он не перетирает.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/iudanet/edusession/internal/client/refresh"
)

// Prefix общий префикс переменных окружения
const Prefix = "EDUSESSION_"

// Драйверы хранилища сессии
const (
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Logging настройки логирования, общие для обеих программ
type Logging struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
}

// Client настройки клиента (sessionctl)
type Client struct {
	Logging

	APIBaseURL      string        `env:"API_BASE_URL,required"`
	StoreDriver     string        `env:"STORE_DRIVER,default=bolt"`
	StorePath       string        `env:"STORE_PATH"`
	StorePassphrase string        `env:"STORE_PASSPHRASE"`
	NATSURL         string        `env:"NATS_URL"`
	SyncNamespace   string        `env:"SYNC_NAMESPACE,default=default"`
	Retention       time.Duration `env:"RETENTION,default=168h"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT,default=30s"`
	SyncPoll        time.Duration `env:"SYNC_POLL,default=500ms"`
	Refresh         Refresh
}

// Refresh параметры планировщика обновления (refresh.Config)
type Refresh struct {
	ExpiryHorizon  time.Duration `env:"EXPIRY_HORIZON,default=10m"`
	CheckInterval  time.Duration `env:"CHECK_INTERVAL,default=60s"`
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT,default=15s"`
	RetryBase      time.Duration `env:"RETRY_BASE,default=1s"`
	RetryMax       time.Duration `env:"RETRY_MAX,default=5s"`
	MinBuffer      time.Duration `env:"MIN_BUFFER,default=15m"`
	MaxBuffer      time.Duration `env:"MAX_BUFFER,default=20m"`
	Floor          time.Duration `env:"FLOOR,default=1m"`
	BufferRatio    float64       `env:"BUFFER_RATIO,default=0.2"`
	RetryAttempts  uint64        `env:"RETRY_ATTEMPTS,default=3"`
}

// Gateway настройки dev шлюза (authstub)
type Gateway struct {
	Logging

	Addr            string        `env:"AUTHSTUB_ADDR,default=127.0.0.1:8081"`
	DBPath          string        `env:"AUTHSTUB_DB_PATH,default=authstub.db"`
	JWTSecret       string        `env:"AUTHSTUB_JWT_SECRET,required"`
	SeedUsers       []string      `env:"AUTHSTUB_USERS"`
	AccessTTL       time.Duration `env:"AUTHSTUB_ACCESS_TTL,default=1h"`
	RefreshTTL      time.Duration `env:"AUTHSTUB_REFRESH_TTL,default=336h"`
	LoginWindow     time.Duration `env:"AUTHSTUB_LOGIN_WINDOW,default=1m"`
	JanitorInterval time.Duration `env:"AUTHSTUB_JANITOR_INTERVAL,default=10m"`
	LoginRate       int           `env:"AUTHSTUB_LOGIN_RATE,default=10"`
	Rotate          bool          `env:"AUTHSTUB_ROTATE,default=true"`
}

// LoadDotEnv загружает .env файлы; отсутствие файла не ошибка
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadClient читает настройки клиента. lookuper nil означает окружение процесса.
func LoadClient(ctx context.Context, lookuper envconfig.Lookuper) (Client, error) {
	var cfg Client
	if err := process(ctx, &cfg, lookuper); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// LoadGateway читает настройки dev шлюза
func LoadGateway(ctx context.Context, lookuper envconfig.Lookuper) (Gateway, error) {
	var cfg Gateway
	if err := process(ctx, &cfg, lookuper); err != nil {
		return Gateway{}, err
	}
	return cfg, nil
}

func process(ctx context.Context, target any, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   target,
		Lookuper: envconfig.PrefixLookuper(Prefix, lookuper),
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

// RefreshConfig переводит настройки в refresh.Config
func (c Client) RefreshConfig() refresh.Config {
	r := c.Refresh
	return refresh.Config{
		RefreshTimeout: r.RefreshTimeout,
		RetryBase:      r.RetryBase,
		RetryMax:       r.RetryMax,
		RetryAttempts:  r.RetryAttempts,
		BufferRatio:    r.BufferRatio,
		MinBuffer:      r.MinBuffer,
		MaxBuffer:      r.MaxBuffer,
		Floor:          r.Floor,
		CheckInterval:  r.CheckInterval,
		ExpiryHorizon:  r.ExpiryHorizon,
	}
}

// Validate проверяет диапазоны значений
func (c Client) Validate() error {
	var errs []error

	u, err := url.Parse(c.APIBaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("API_BASE_URL: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("API_BASE_URL: scheme must be http or https, got %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("API_BASE_URL: host is required"))
	}

	switch c.StoreDriver {
	case StoreBolt, StoreSQLite:
		if c.StorePath == "" {
			errs = append(errs, fmt.Errorf("STORE_PATH is required for driver %s", c.StoreDriver))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}

	errs = append(errs,
		positive("RETENTION", c.Retention),
		positive("HTTP_TIMEOUT", c.HTTPTimeout),
		positive("SYNC_POLL", c.SyncPoll),
		c.Refresh.validate(),
		c.Logging.validate(),
	)

	return errors.Join(errs...)
}

func (r Refresh) validate() error {
	errs := []error{
		positive("EXPIRY_HORIZON", r.ExpiryHorizon),
		positive("CHECK_INTERVAL", r.CheckInterval),
		positive("REFRESH_TIMEOUT", r.RefreshTimeout),
		positive("RETRY_BASE", r.RetryBase),
		positive("RETRY_MAX", r.RetryMax),
		positive("MIN_BUFFER", r.MinBuffer),
		positive("MAX_BUFFER", r.MaxBuffer),
		positive("FLOOR", r.Floor),
	}
	if r.BufferRatio <= 0 || r.BufferRatio >= 1 {
		errs = append(errs, fmt.Errorf("BUFFER_RATIO must be in (0, 1), got %v", r.BufferRatio))
	}
	if r.MinBuffer > r.MaxBuffer {
		errs = append(errs, fmt.Errorf("MIN_BUFFER (%s) must not exceed MAX_BUFFER (%s)", r.MinBuffer, r.MaxBuffer))
	}
	if r.RetryBase > r.RetryMax {
		errs = append(errs, fmt.Errorf("RETRY_BASE (%s) must not exceed RETRY_MAX (%s)", r.RetryBase, r.RetryMax))
	}
	return errors.Join(errs...)
}

// Validate проверяет настройки шлюза
func (g Gateway) Validate() error {
	var errs []error
	if len(g.JWTSecret) < 16 {
		errs = append(errs, errors.New("AUTHSTUB_JWT_SECRET must be at least 16 bytes"))
	}
	errs = append(errs,
		positive("AUTHSTUB_ACCESS_TTL", g.AccessTTL),
		positive("AUTHSTUB_REFRESH_TTL", g.RefreshTTL),
		positive("AUTHSTUB_JANITOR_INTERVAL", g.JanitorInterval),
		g.Logging.validate(),
	)
	if g.RefreshTTL > 0 && g.RefreshTTL <= g.AccessTTL {
		errs = append(errs, errors.New("AUTHSTUB_REFRESH_TTL must exceed AUTHSTUB_ACCESS_TTL"))
	}
	if g.LoginRate > 0 && g.LoginWindow <= 0 {
		errs = append(errs, errors.New("AUTHSTUB_LOGIN_WINDOW must be positive when rate limit is on"))
	}
	return errors.Join(errs...)
}

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

func (l Logging) validate() error {
	var errs []error
	if _, err := l.level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", l.Format))
	}
	return errors.Join(errs...)
}

func (l Logging) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// NewLogger строит slog.Logger по настройкам
func (l Logging) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := l.level()
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
