package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kmsync/kmsync/pkg/config"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 10, cfg.AnchorInterval)
	require.False(t, cfg.TrustMtime)
	require.Equal(t, int64(64*1024), cfg.PieceSizeMinBytes)
	require.Equal(t, int64(4*1024*1024), cfg.PieceSizeMaxBytes)
}

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.jsonnet"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadOverlaysOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kmsync.jsonnet")
	require.NoError(t, os.WriteFile(path, []byte(`{ anchor_interval: 5, trust_mtime: true }`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.AnchorInterval)
	require.True(t, cfg.TrustMtime)
	require.Equal(t, config.Default().PieceSizeMinBytes, cfg.PieceSizeMinBytes)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}
