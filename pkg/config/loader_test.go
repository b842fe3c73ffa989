package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadConfig_MergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_SECRET}
server:
  port: "8080"
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
`)
	writeFile(t, dir, "secrets.env", `
# comment
DB_SECRET="s3cret"
`)

	merged, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	var out struct {
		DB     DBConfig     `yaml:"db"`
		Server ServerConfig `yaml:"server"`
	}
	require.NoError(t, Decode(merged, &out))

	assert.Equal(t, "db.staging", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "s3cret", out.DB.Password)
	assert.Equal(t, "8080", out.Server.Port)
}

func TestLoadConfig_MissingBaseFails(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	require.Error(t, err)
}

func TestOverrideFromSystemEnv(t *testing.T) {
	cfg := map[string]interface{}{
		"outbox": map[string]interface{}{"batch_size": 100},
	}
	out := overrideFromSystemEnv(cfg, []string{
		"CONTRACTSVC_OUTBOX__BATCH_SIZE=25",
		"CONTRACTSVC_RATELIMIT__ENABLED=false",
		"CONTRACTSVC_BROKEN=1",
		"PATH=/usr/bin",
	})

	outbox := out["outbox"].(map[string]interface{})
	assert.Equal(t, 25, outbox["batch_size"])
	rl := out["ratelimit"].(map[string]interface{})
	assert.Equal(t, false, rl["enabled"])
	_, ok := out["broken"]
	assert.False(t, ok)
}

func TestMergeMapsKeepsNestedKeys(t *testing.T) {
	dst := map[string]interface{}{
		"db": map[string]interface{}{"host": "a", "port": 1},
	}
	src := map[string]interface{}{
		"db": map[string]interface{}{"host": "b"},
	}
	merged := mergeMaps(dst, src)
	db := merged["db"].(map[string]interface{})
	assert.Equal(t, "b", db["host"])
	assert.Equal(t, 1, db["port"])
}
