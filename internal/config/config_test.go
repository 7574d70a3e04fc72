package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exchange.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Ledger.InitialBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.AttemptTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFileAndEnv(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9000"
ledger:
  max_attempts: 5
  reconcile_interval: 1m
store:
  driver: postgres
  dsn: postgres://file/db
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
`)
	t.Setenv("EXCHANGE_STORE_DSN", "postgres://env/db")
	t.Setenv("EXCHANGE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Ledger.ReconcileInterval)
	assert.Equal(t, "postgres://env/db", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestDatabaseURLFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://legacy/db")
	path := writeFile(t, "store:\n  driver: postgres\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://legacy/db", cfg.Store.DSN)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load(writeFile(t, "store:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "store.dsn")

	_, err = Load(writeFile(t, "store:\n  driver: sqlite\n"))
	assert.ErrorContains(t, err, "unknown store.driver")

	_, err = Load(writeFile(t, "ledger:\n  max_attempts: 0\nengine:\n  queue_size: -1\n"))
	assert.ErrorContains(t, err, "ledger.max_attempts")
	assert.ErrorContains(t, err, "engine.queue_size")

	_, err = Load(writeFile(t, "ledger:\n  attempt_timeout: 2s\nhttp:\n  request_timeout: 3s\n"))
	assert.ErrorContains(t, err, "must stay under http.request_timeout")

	_, err = Load(writeFile(t, "ledger:\n  attempt_timeout: -1s\n"))
	assert.ErrorContains(t, err, "ledger.attempt_timeout must be positive")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.Dump()
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Contains(t, back, "ledger")
	assert.Contains(t, string(out), "initial_backoff: 50ms")
}
