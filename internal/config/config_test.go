package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns())

	assert.True(t, cfg.AuthorizeNet.Sandbox)
	assert.Equal(t, 5, cfg.Webhook.MaxRetries)
	assert.Equal(t, []string{"USD"}, cfg.Payments.SupportedCurrencies)
	assert.Equal(t, 100, cfg.RateLimit.PerMinute)
	assert.Equal(t, 1000, cfg.RateLimit.PerHour)
	assert.Equal(t, 1000, cfg.Queue.MaxSize)
	assert.Equal(t, 10, cfg.Queue.Workers)
	assert.Equal(t, 30*time.Second, cfg.Queue.RequestTimeout)
	assert.Empty(t, cfg.Auth.Keys)
	assert.Equal(t, 90, cfg.Worker.AuditRetentionDays)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "production")
	t.Setenv("SHUTDOWN_TIMEOUT", "10s")
	t.Setenv("SUPPORTED_CURRENCIES", "USD, EUR ,GBP")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("AUTHORIZE_NET_SANDBOX", "false")
	t.Setenv("DATABASE_MAX_OVERFLOW", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"USD", "EUR", "GBP"}, cfg.Payments.SupportedCurrencies)
	assert.Equal(t, 5, cfg.RateLimit.PerMinute)
	assert.False(t, cfg.AuthorizeNet.Sandbox)
	// unparseable values fall back to defaults
	assert.Equal(t, 10, cfg.Database.MaxOverflow)
}

func TestParseAPIKeys(t *testing.T) {
	keys := parseAPIKeys("key_1:$2a$10$hashone, key_2:$2a$10$hashtwo")
	require.Len(t, keys, 2)
	assert.Equal(t, "$2a$10$hashone", keys["key_1"])
	assert.Equal(t, "$2a$10$hashtwo", keys["key_2"])

	assert.Empty(t, parseAPIKeys(""))
	assert.Empty(t, parseAPIKeys("no-colon-here"))
	assert.Empty(t, parseAPIKeys(":, :x, y:"))
}

func TestRedisAddr(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"redis://localhost:6379", "localhost:6379"},
		{"redis://:secret@cache.internal:6380/2", "cache.internal:6380"},
		{"localhost:6379", "localhost:6379"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RedisConfig{URL: tc.url}.Addr(), "url %s", tc.url)
	}
}
