package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolens/protolens/pkg/detect"
	"github.com/protolens/protolens/pkg/protocol"
)

func TestLoadDefaults(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(nil, ""))

	cfg := m.Get()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "balanced", cfg.Detector.Preset)
	assert.Equal(t, "passive", cfg.Detector.Strategy)
	assert.Equal(t, "100ms", cfg.Detector.Timeout)
	assert.InDelta(t, 0.80, cfg.Detector.MinConfidence, 1e-9)
	assert.Equal(t, 16, cfg.Detector.MinWindow)
	assert.Len(t, cfg.Detector.Protocols, len(protocol.All()))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protolens.yaml")
	content := `
log:
  level: debug
detector:
  protocols: [tls, ssh]
  strategy: hybrid
  min_confidence: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(nil, path))

	cfg := m.Get()
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"tls", "ssh"}, cfg.Detector.Protocols)
	assert.Equal(t, "hybrid", cfg.Detector.Strategy)
	assert.InDelta(t, 0.9, cfg.Detector.MinConfidence, 1e-9)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protolens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log.level", "info", "")
	require.NoError(t, flags.Set("log.level", "trace"))

	m := NewManager()
	require.NoError(t, m.Load(flags, path))
	assert.Equal(t, "trace", m.Get().Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := DefaultConfig()

	bad := base
	bad.Detector.Strategy = "aggressive"
	require.Error(t, Validate(bad))

	bad = base
	bad.Detector.MinConfidence = 1.5
	require.Error(t, Validate(bad))

	bad = base
	bad.Detector.Protocols = nil
	require.Error(t, Validate(bad))

	bad = base
	bad.Detector.Protocols = []string{"gopher"}
	require.Error(t, Validate(bad))

	bad = base
	bad.Detector.Timeout = "500us"
	require.Error(t, Validate(bad))

	require.NoError(t, Validate(base))
}

func TestDetectorOptions_Presets(t *testing.T) {
	t.Run("high_performance", func(t *testing.T) {
		cfg := DefaultConfig().Detector
		cfg.Preset = "high_performance"
		opts, err := cfg.DetectorOptions()
		require.NoError(t, err)
		assert.Equal(t, detect.StrategyPassive, opts.Strategy)
		assert.Equal(t, 50*time.Millisecond, opts.Timeout)
		assert.True(t, opts.Accelerated)
		assert.InDelta(t, 0.80, opts.MinConfidence, 1e-9)
	})

	t.Run("high_accuracy", func(t *testing.T) {
		cfg := DefaultConfig().Detector
		cfg.Preset = "high_accuracy"
		opts, err := cfg.DetectorOptions()
		require.NoError(t, err)
		assert.True(t, opts.Heuristic)
		assert.Equal(t, 200*time.Millisecond, opts.Timeout)
		assert.InDelta(t, 0.90, opts.MinConfidence, 1e-9)
	})

	t.Run("balanced honours explicit timeout", func(t *testing.T) {
		cfg := DefaultConfig().Detector
		cfg.Timeout = "250ms"
		opts, err := cfg.DetectorOptions()
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, opts.Timeout)
	})
}

func TestDetectorOptions_BuildsWorkingDetector(t *testing.T) {
	cfg := DefaultConfig().Detector
	opts, err := cfg.DetectorOptions()
	require.NoError(t, err)

	det, err := detect.New(opts)
	require.NoError(t, err)

	res, err := det.Detect([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, protocol.HTTP11, res.Tag())
}

func TestDetectorOptions_LowercasesProtocols(t *testing.T) {
	cfg := DefaultConfig().Detector
	cfg.Protocols = []string{"TLS", "ssh"}
	opts, err := cfg.DetectorOptions()
	require.NoError(t, err)
	assert.Equal(t, []protocol.Tag{protocol.TLS, protocol.SSH}, opts.EnabledProtocols)
}
