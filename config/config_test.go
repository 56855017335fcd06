package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:12345", cfg.ListenAddr)
	assert.Equal(t, 3*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReapInterval)
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	assert.False(t, cfg.WatchStaging)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	contents := `
application_name = "orders-service"
listen_addr = "0.0.0.0:9000"
staging_dir = "/var/lib/agent/classes"
watch_staging = true
compiler_url = "http://compiler.internal:8080"
idle_timeout = "10m"
probe_interval = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orders-service", cfg.ApplicationName)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/agent/classes", cfg.StagingDir)
	assert.True(t, cfg.WatchStaging)
	assert.Equal(t, "http://compiler.internal:8080", cfg.CompilerURL)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)

	// Unset keys keep their defaults.
	assert.Equal(t, "127.0.0.1:22222", cfg.AdminAddr)
	assert.Equal(t, 5*time.Second, cfg.ReapInterval)
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`idle_timeout = "soon"`), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "idle_timeout")
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	path := filepath.Join(root, FileName)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	assert.Equal(t, path, Find(nested))
}
