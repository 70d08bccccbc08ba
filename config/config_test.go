package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: ":9090"
  mode: release
saliency:
  percentile: 90
  blur_kernel: 7
pipeline:
  output_dir: /tmp/overlays
explainer:
  provider: none
  timeout: 5s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 90.0, cfg.Saliency.Percentile)
	assert.Equal(t, 7, cfg.Saliency.BlurKernel)
	assert.Equal(t, "/tmp/overlays", cfg.Pipeline.OutputDir)
	assert.Equal(t, "none", cfg.Explainer.Provider)
	assert.Equal(t, 5*time.Second, cfg.Explainer.Timeout)

	// 未配置的项取默认值
	assert.Equal(t, 0.7, cfg.Saliency.HeatmapWeight)
	assert.Equal(t, 0.3, cfg.Saliency.ImageWeight)
	assert.Equal(t, 10.0, cfg.Saliency.MaskOffset)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/jpg"}, cfg.Upload.AllowedTypes)
}

func TestLoadRejectsEvenBlurKernel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("saliency:\n  blur_kernel: 10\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 80.0, cfg.Saliency.Percentile)
	assert.Equal(t, 11, cfg.Saliency.BlurKernel)
	assert.Equal(t, "./saliency_maps", cfg.Pipeline.OutputDir)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TUMORSCAN_PIPELINE_DEFAULT_MODEL", "cnn_1m")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  mode: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cnn_1m", cfg.Pipeline.DefaultModel)
}
