package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "groups", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, LockBackendPostgres, cfg.Membership.LockBackend)
	assert.Equal(t, 20, cfg.Membership.DefaultPerPage)
	assert.Equal(t, "@hourly", cfg.Worker.CleanupSchedule)
	assert.Equal(t, 720*time.Hour, cfg.Worker.DraftInviteTTL)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MEMBERSHIP_LOCK_BACKEND", "redis")
	t.Setenv("MEMBERSHIP_LOCK_TTL", "30s")
	t.Setenv("WORKER_DRAFT_INVITE_TTL", "48h")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, LockBackendRedis, cfg.Membership.LockBackend)
	assert.Equal(t, 30*time.Second, cfg.Membership.LockTTL)
	assert.Equal(t, 48*time.Hour, cfg.Worker.DraftInviteTTL)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr())
	assert.Equal(t, 5432, cfg.Database.Port, "unparsable values fall back to defaults")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		t.Helper()
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown lock backend", func(c *Config) { c.Membership.LockBackend = "etcd" }, "MEMBERSHIP_LOCK_BACKEND"},
		{"in-process lock backend", func(c *Config) { c.Membership.LockBackend = "memory" }, "MEMBERSHIP_LOCK_BACKEND"},
		{"page size too large", func(c *Config) { c.Membership.DefaultPerPage = 500 }, "MEMBERSHIP_DEFAULT_PER_PAGE"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "LOG_LEVEL"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"zero draft ttl", func(c *Config) { c.Worker.DraftInviteTTL = 0 }, "WORKER_DRAFT_INVITE_TTL"},
		{"no concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "WORKER_CONCURRENCY"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database host"},
		{
			"production forbids debug",
			func(c *Config) {
				c.App.Env = EnvProduction
				c.Database.SSLMode = "require"
				c.App.Debug = true
			},
			"debug mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "groups", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/groups?sslmode=disable", c.URL())
	assert.Contains(t, c.DSN(), "dbname=groups")
}

func TestLogConfig_LoggerConfig(t *testing.T) {
	c := LogConfig{Level: "debug", Format: "text", SamplingEnabled: true, SamplingThreshold: 5, AsyncEnabled: true, AsyncBufferSize: 8}
	lc := c.LoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.Sampling.Enabled)
	assert.Equal(t, 5, lc.Sampling.Threshold)
	assert.Equal(t, 8, lc.Async.BufferSize)
}
