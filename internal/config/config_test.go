// ABOUTME: Tests for backend configuration loading
// ABOUTME: Covers YAML parsing, env var expansion, durations, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a temp config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/weft-test.db"
responder:
  progress_interval: 250ms
  progress_steps: 8
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/weft-test.db", cfg.Database.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Responder.ProgressInterval)
	assert.Equal(t, 8, cfg.Responder.ProgressSteps)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WEFT_TEST_DB_PATH", "/var/lib/weft/state.db")

	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "${WEFT_TEST_DB_PATH}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/weft/state.db", cfg.Database.Path)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "${WEFT_TEST_DOES_NOT_EXIST}"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":3000"
database:
  path: "weft.db"
responder:
  progress_interval: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_MissingAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPAddr = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.http_addr")
}

func TestValidate_NegativeProgressSteps(t *testing.T) {
	cfg := Default()
	cfg.Responder.ProgressSteps = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress_steps")
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":3000", cfg.Server.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Responder.ProgressInterval)
	assert.Equal(t, 4, cfg.Responder.ProgressSteps)
}
