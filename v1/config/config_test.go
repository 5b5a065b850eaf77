package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef"

func TestDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{"HASHER_SECRET": secret})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.PointerTTL)
	assert.Equal(t, time.Second, cfg.LockAcquireTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.LockRetryInterval)
	assert.Equal(t, BusRedis, cfg.Bus)
	assert.True(t, cfg.SlidingSessions)
	assert.True(t, cfg.Standalone())
}

func TestOverrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"HASHER_SECRET":    secret,
		"REDIS_ADDR":       "127.0.0.1:6379",
		"BUS":              "nats",
		"SESSION_TTL":      "10m",
		"POINTER_TTL":      "1h",
		"SLIDING_SESSIONS": "false",
	})
	require.NoError(t, err)
	assert.False(t, cfg.Standalone())
	assert.Equal(t, BusNATS, cfg.Bus)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.False(t, cfg.SlidingSessions)
}

func TestValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":     {},
		"short secret":       {"HASHER_SECRET": "short"},
		"pointer too short":  {"HASHER_SECRET": secret, "SESSION_TTL": "2h", "POINTER_TTL": "1h"},
		"negative timeout":   {"HASHER_SECRET": secret, "LOCK_ACQUIRE_TIMEOUT": "-1s"},
		"unknown bus":        {"HASHER_SECRET": secret, "BUS": "kafka"},
		"malformed duration": {"HASHER_SECRET": secret, "SESSION_TTL": "soon"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromMap(vars)
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("WARDEN_HASHER_SECRET="+secret+"\nWARDEN_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("WARDEN_HASHER_SECRET", "")
	require.NoError(t, os.Unsetenv("WARDEN_HASHER_SECRET"))
	t.Setenv("WARDEN_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.HasherSecret)
	assert.Equal(t, "warn", cfg.LogLevel, "process environment wins over the file")

	_, err = Load(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}
