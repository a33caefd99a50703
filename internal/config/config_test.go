package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.Scan.ElimClipDuration)
	assert.GreaterOrEqual(t, cfg.Scan.Threads, 1)
	assert.EqualValues(t, 500_000_000, cfg.Cache.ClipCacheBytes)
	assert.Equal(t, 50, cfg.Cache.FrameCacheEntries)
	assert.Equal(t, "eng", cfg.OCR.Language)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
scan:
  threads: 3
  include_assists: true
  elim_clip_duration: 6.5
ocr:
  language: deu
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	t.Setenv("ECLIPPER_SCAN_THREADS", "7")
	t.Setenv("ECLIPPER_SERVER_ADDR", "127.0.0.1:9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scan.Threads, "environment wins over file")
	assert.True(t, cfg.Scan.IncludeAssists)
	assert.Equal(t, 6.5, cfg.Scan.ElimClipDuration)
	assert.Equal(t, "deu", cfg.OCR.Language)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Cache.ClipCacheEntries, "unset values keep defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scan:\n  threads: 0\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Scan.HardwareAccel = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Scan.HardwareAccel)
}

func TestContext(t *testing.T) {
	cfg := Default()
	cfg.Scan.Threads = 11
	ctx := WithConfig(context.Background(), cfg)
	assert.Equal(t, 11, FromContext(ctx).Scan.Threads)
	assert.NotNil(t, FromContext(context.Background()))
}
