package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient(context.Background(), envconfig.MapLookuper(map[string]string{
		"EDUSESSION_API_BASE_URL": "http://localhost:8081",
		"EDUSESSION_STORE_PATH":   "/tmp/session.db",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8081", cfg.APIBaseURL)
	assert.Equal(t, StoreBolt, cfg.StoreDriver)
	assert.Equal(t, 168*time.Hour, cfg.Retention)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	require.NoError(t, cfg.Validate())

	rc := cfg.RefreshConfig()
	assert.Equal(t, 10*time.Minute, rc.ExpiryHorizon)
	assert.Equal(t, time.Minute, rc.CheckInterval)
	assert.Equal(t, 15*time.Second, rc.RefreshTimeout)
	assert.Equal(t, time.Second, rc.RetryBase)
	assert.Equal(t, 5*time.Second, rc.RetryMax)
	assert.Equal(t, uint64(3), rc.RetryAttempts)
	assert.InDelta(t, 0.2, rc.BufferRatio, 1e-9)
	assert.Equal(t, 15*time.Minute, rc.MinBuffer)
	assert.Equal(t, 20*time.Minute, rc.MaxBuffer)
	assert.Equal(t, time.Minute, rc.Floor)
}

func TestLoadClient_Overrides(t *testing.T) {
	cfg, err := LoadClient(context.Background(), envconfig.MapLookuper(map[string]string{
		"EDUSESSION_API_BASE_URL":   "https://auth.example.com/api",
		"EDUSESSION_STORE_DRIVER":   "memory",
		"EDUSESSION_NATS_URL":       "nats://127.0.0.1:4222",
		"EDUSESSION_RETRY_ATTEMPTS": "5",
		"EDUSESSION_BUFFER_RATIO":   "0.5",
		"EDUSESSION_LOG_LEVEL":      "debug",
		"EDUSESSION_LOG_FORMAT":     "json",
		// без префикса игнорируется
		"STORE_DRIVER": "sqlite",
	}))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, uint64(5), cfg.Refresh.RetryAttempts)
	assert.InDelta(t, 0.5, cfg.Refresh.BufferRatio, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoadClient_MissingRequired(t *testing.T) {
	_, err := LoadClient(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_BASE_URL")
}

func TestClient_Validate(t *testing.T) {
	valid := func() Client {
		cfg, err := LoadClient(context.Background(), envconfig.MapLookuper(map[string]string{
			"EDUSESSION_API_BASE_URL": "http://localhost:8081",
			"EDUSESSION_STORE_DRIVER": "memory",
		}))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Client)
		wantErr string
	}{
		{name: "bad scheme", mutate: func(c *Client) { c.APIBaseURL = "ftp://host" }, wantErr: "scheme"},
		{name: "no host", mutate: func(c *Client) { c.APIBaseURL = "http://" }, wantErr: "host is required"},
		{name: "unknown driver", mutate: func(c *Client) { c.StoreDriver = "redis" }, wantErr: "unknown driver"},
		{name: "bolt without path", mutate: func(c *Client) { c.StoreDriver = StoreBolt }, wantErr: "STORE_PATH"},
		{name: "ratio out of range", mutate: func(c *Client) { c.Refresh.BufferRatio = 1 }, wantErr: "BUFFER_RATIO"},
		{name: "min above max", mutate: func(c *Client) { c.Refresh.MinBuffer = time.Hour }, wantErr: "MIN_BUFFER"},
		{name: "retry base above max", mutate: func(c *Client) { c.Refresh.RetryBase = time.Minute }, wantErr: "RETRY_BASE"},
		{name: "zero retention", mutate: func(c *Client) { c.Retention = 0 }, wantErr: "RETENTION"},
		{name: "bad level", mutate: func(c *Client) { c.Level = "loud" }, wantErr: "LOG_LEVEL"},
		{name: "bad format", mutate: func(c *Client) { c.Format = "xml" }, wantErr: "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadGateway(t *testing.T) {
	cfg, err := LoadGateway(context.Background(), envconfig.MapLookuper(map[string]string{
		"EDUSESSION_AUTHSTUB_JWT_SECRET": "0123456789abcdef0123",
		"EDUSESSION_AUTHSTUB_USERS":      "a@example.com:pw,b@example.com:pw:teacher",
		"EDUSESSION_AUTHSTUB_ROTATE":     "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.Equal(t, 336*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 10, cfg.LoginRate)
	assert.False(t, cfg.Rotate)
	assert.Equal(t, []string{"a@example.com:pw", "b@example.com:pw:teacher"}, cfg.SeedUsers)
	require.NoError(t, cfg.Validate())
}

func TestGateway_Validate(t *testing.T) {
	cfg := Gateway{
		Logging:         Logging{Level: "info", Format: "text"},
		JWTSecret:       "short",
		AccessTTL:       time.Hour,
		RefreshTTL:      time.Minute,
		JanitorInterval: time.Minute,
		LoginRate:       5,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHSTUB_JWT_SECRET")
	assert.Contains(t, err.Error(), "must exceed AUTHSTUB_ACCESS_TTL")
	assert.Contains(t, err.Error(), "AUTHSTUB_LOGIN_WINDOW")
}

func TestLogging_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Logging{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("EDUSESSION_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("EDUSESSION_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("EDUSESSION_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("EDUSESSION_TEST_DOTENV"))
}
