package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"JWT_SECRET", "STORAGE", "SERVER_PORT", "WORKSPACE_TIMEOUT"} {
		t.Setenv(k, "")
	}
}

func TestLoadFrom_DefaultsAndOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	write(t, dir, "base.yaml", `
storage: postgres
jwt:
  secret: ${JWT_KEY}
workspace:
  url: http://workspace:8080
  timeout: 3s
outbox:
  batch_size: 20
`)
	write(t, dir, "local.yaml", `
storage: memory
`)
	write(t, dir, "secrets.env", "JWT_KEY=abc\n")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "abc", cfg.JWT.Secret)
	assert.Equal(t, 3*time.Second, cfg.Workspace.Timeout)
	assert.Equal(t, 9*time.Second, cfg.Workspace.MaxElapsed)
	assert.Equal(t, 12*time.Second, cfg.RoomTimeout())
	assert.Equal(t, 20, cfg.Outbox.BatchSize)
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "contracts.payment.milestone.q", cfg.Consumer.Queue)
}

func TestLoadFrom_Validation(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	write(t, dir, "base.yaml", "storage: sqlite\njwt:\n  secret: x\n")
	_, err := LoadFrom("", dir)
	assert.Error(t, err)

	dir = t.TempDir()
	write(t, dir, "base.yaml", "storage: memory\n")
	_, err = LoadFrom("", dir)
	assert.Error(t, err)
}
