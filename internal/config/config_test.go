// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8666", cfg.ListenAddr)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 3, cfg.CaptureAttempts)
	assert.Equal(t, 60*time.Second, cfg.BackoffBase)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, []string{"http", "https", "rtmp", "rtmps"}, cfg.Protocols)
	assert.True(t, cfg.CleanupAfterTransfer)
	assert.Equal(t, int64(10<<20), cfg.MaxArtworkBytes)
	assert.Equal(t, filepath.Join("data", "id_ed25519"), cfg.SSHKeyPath)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AIRCAP_MAX_CONCURRENT_RECORDINGS", "5")
	t.Setenv("AIRCAP_BACKOFF_BASE", "30")
	t.Setenv("AIRCAP_TRANSFER_TIMEOUT", "2m")
	t.Setenv("AIRCAP_CLEANUP_AFTER_TRANSFER", "false")

	cfg := FromEnv()
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.BackoffBase, "bare integers are seconds")
	assert.Equal(t, 2*time.Minute, cfg.TransferTimeout)
	assert.False(t, cfg.CleanupAfterTransfer)
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("AIRCAP_MAX_CONCURRENT_RECORDINGS", "many")
	t.Setenv("AIRCAP_BACKOFF_MULTIPLIER", "fast")

	cfg := FromEnv()
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aircap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr: \":9000\"\nmax_concurrent: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.MaxConcurrent)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 3, cfg.CaptureAttempts)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aircap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent")
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.BackoffMultiplier = 0.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Protocols = nil
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.CaptureAttempts = 0
	assert.Error(t, bad.Validate())
}

func TestHolderReloadIsAllOrNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aircap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent: 4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	h := NewHolder(cfg, path)
	assert.Equal(t, 4, h.Get().MaxConcurrent)

	// A broken file must keep the previous snapshot.
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent: 0\n"), 0o644))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 4, h.Get().MaxConcurrent)

	// A good file swaps in.
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent: 6\n"), 0o644))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, 6, h.Get().MaxConcurrent)
}

func TestDBPath(t *testing.T) {
	cfg := Config{DataDir: "/var/lib/aircap"}
	assert.Equal(t, filepath.Join("/var/lib/aircap", "aircap.db"), cfg.DBPath())
}
