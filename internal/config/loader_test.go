package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile writes content to ~/.config/analystd/config.yaml under a
// temporary home and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "analystd")
	require.NoError(t, os.MkdirAll(configDir, 0o700))

	path := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithFileDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// No config file at all: defaults apply.
	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
}

func TestLoadWithFileYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9191
completion:
  model: gpt-4o-mini
  api_key: sk-from-file
sandbox:
  timeout: 45
domain:
  metadata_dir: /srv/analystd/metadata
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
	assert.Equal(t, "sk-from-file", cfg.Completion.APIKey.Value())
	assert.Equal(t, 45, cfg.Sandbox.Timeout)
	assert.Equal(t, "/srv/analystd/metadata", cfg.Domain.MetadataDir)
}

func TestLoadWithFileEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9191
completion:
  api_key: sk-from-file
`)

	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("COMPLETION_API_KEY", "sk-from-env")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-from-env", cfg.Completion.APIKey.Value())
}

func TestLoadWithFileOpenAIKeyFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.Completion.APIKey.Value())
}

func TestLoadWithFileRejectsOutsidePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadWithFile("/tmp/evil-config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in")
}

func TestLoadWithFileRejectsWeakPermissions(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_port: 9191\n")
	require.NoError(t, os.Chmod(path, 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFileRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_port: 99999\n")

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "analystd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
