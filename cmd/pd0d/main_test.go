package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, filepath.Join(dir, "data"), cfg.StorageDir)
	require.Equal(t, filepath.Join(dir, "data", "logs"), cfg.Logs.Directory)
	require.Equal(t, runtime.NumCPU(), cfg.Decode.Concurrency)
	require.Equal(t, 25, cfg.Logs.MaxSizeMB)
	require.False(t, cfg.AllowLocalPaths)
}

func TestLoadConfigValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `port: 9090
storageDir: /srv/pd0
allowLocalPaths: true
maxUploadBytes: 1048576
decode:
  concurrency: 3
  verifyChecksum: true
logs:
  directory: logs
  maxBackups: 2
  compress: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "/srv/pd0", cfg.StorageDir)
	require.Equal(t, filepath.Join(dir, "logs"), cfg.Logs.Directory)
	require.Equal(t, 2, cfg.Logs.MaxBackups)
	require.True(t, cfg.Logs.Compress)

	opts := cfg.serverOptions()
	require.True(t, opts.AllowLocalPaths)
	require.Equal(t, int64(1048576), opts.MaxUploadBytes)
	require.Equal(t, 3, opts.Decode.Concurrency)
	require.True(t, opts.Decode.VerifyChecksum)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
