package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReturnsValidConfiguration(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.NoError(t, Validate(cfg))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 60, cfg.JWTExpirationMinutes)
	assert.Equal(t, 0, cfg.Resources.MaxEmbedWorkers)
	assert.Equal(t, 0, cfg.Resources.MaxConcurrentIndexJobs)
}

func TestLoadConfigUsesDefaultsWhenNoConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	cfg, err := NewLoader(tempDir).Load()
	require.NoError(t, err)

	expected := Default()
	assert.Equal(t, expected.Port, cfg.Port)
	assert.Equal(t, expected.Embedding.Provider, cfg.Embedding.Provider)
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	dir := filepath.Join(tempDir, ".code-indexer")
	require.NoError(t, os.MkdirAll(dir, 0755))

	content := `
port: 9090
log_level: DEBUG
embedding:
  provider: http
  model: custom-model
  dimensions: 512
  endpoint: http://localhost:9000/embed
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := NewLoader(tempDir).Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "http", cfg.Embedding.Provider)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	dir := filepath.Join(tempDir, ".code-indexer")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: 9090\n"), 0644))

	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "WARNING")

	cfg, err := NewLoader(tempDir).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "WARNING", cfg.LogLevel)
}

func TestLoadConfigCIDXPrefixOverridesNestedField(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CIDX_DAEMON_AUTO_SHUTDOWN_ON_IDLE", "true")

	cfg, err := NewLoader(tempDir).Load()
	require.NoError(t, err)
	assert.True(t, cfg.Daemon.AutoShutdownOnIdle)
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.ErrorIs(t, Validate(cfg), ErrInvalidPort)

	cfg.Port = 70000
	assert.ErrorIs(t, Validate(cfg), ErrInvalidPort)
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "TRACE"
	assert.ErrorIs(t, Validate(cfg), ErrInvalidLogLevel)
}

func TestValidateRejectsNonPositiveJWTExpiration(t *testing.T) {
	cfg := Default()
	cfg.JWTExpirationMinutes = 0
	assert.ErrorIs(t, Validate(cfg), ErrInvalidJWTExpiration)
}

func TestValidateRejectsNegativeResourceLimits(t *testing.T) {
	cfg := Default()
	cfg.Resources.MaxEmbedWorkers = -1
	assert.ErrorIs(t, Validate(cfg), ErrInvalidResourceLimit)
}

func TestValidateRequiresEndpointForHTTPProvider(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Provider = "http"
	cfg.Embedding.Endpoint = ""
	assert.ErrorIs(t, Validate(cfg), ErrEmptyEndpoint)
}

func TestValidateRejectsOverlapNotLessThanTargetSize(t *testing.T) {
	cfg := Default()
	cfg.Chunking.TargetSizeTokens = 100
	cfg.Chunking.OverlapTokens = 100
	assert.ErrorIs(t, Validate(cfg), ErrInvalidChunking)
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Port = -1
	cfg.LogLevel = "nope"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "log level")
}
