package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attestor-Labs/attestor/pkg/config"
	"github.com/Attestor-Labs/attestor/pkg/events"
)

const sampleProfile = `
run:
  domain: grid-protocols
  ae_timeout_ms: 45000
  propose_timeout_ms: 10000
  max_iterations: 8
  no_progress_k: 4
  epsilon: 0.001
bus:
  buffer_size: 256
  drop_oldest: true
  sinks: [memory, rotating_file]
  journal_path: /tmp/journal.jsonl
  max_file_bytes: 4096
audit:
  output_dir: /tmp/attestor-run
  pcap_dir: /tmp/attestor-run/pcaps
telemetry:
  enabled: true
  endpoint: collector:4317
  sample_rate: 0.25
log_level: DEBUG
`

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := config.Load(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "grid-protocols", p.Run.Domain)
	assert.Equal(t, 8, p.Run.MaxIterations)
	assert.True(t, p.Bus.DropOldest)
	assert.Equal(t, []string{"memory", "rotating_file"}, p.Bus.Sinks)
	assert.True(t, p.Telemetry.Enabled)
	assert.Equal(t, 0.25, p.Telemetry.SampleRate)

	oc := p.OrchestratorConfig()
	assert.Equal(t, 45*time.Second, oc.AETimeout)
	assert.Equal(t, 10*time.Second, oc.ProposeTimeout)
	assert.Equal(t, 8, oc.MaxIterations)
	assert.Equal(t, 4, oc.NoProgressK)
	assert.Equal(t, 0.001, oc.Epsilon)
	assert.Equal(t, "/tmp/attestor-run/pcaps", oc.PCAPDir)

	bc := p.EventBusConfig()
	assert.Equal(t, 256, bc.BufferSize)
	assert.Equal(t, []events.SinkKind{events.SinkMemory, events.SinkRotatingFile}, bc.Sinks)
	assert.Equal(t, int64(4096), bc.MaxFileBytes)
}

func TestLoadDefaultsWhenNoPath(t *testing.T) {
	p, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 1024, p.Bus.BufferSize)
	assert.Equal(t, "attestor-out", p.Audit.OutputDir)
	assert.False(t, p.Telemetry.Enabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ATTESTOR_RUN_ID", "run-from-env")
	t.Setenv("ATTESTOR_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("ATTESTOR_BUS_BUFFER", "64")

	p, err := config.Load(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "run-from-env", p.Run.RunID)
	assert.Equal(t, "otel:4317", p.Telemetry.Endpoint)
	assert.True(t, p.Telemetry.Enabled)
	assert.Equal(t, 64, p.Bus.BufferSize)
}

func TestLoadRejectsBadBufferSize(t *testing.T) {
	_, err := config.Load(writeProfile(t, "bus:\n  buffer_size: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer_size")
}

func TestSlogLevelMapping(t *testing.T) {
	p := config.Default()
	p.LogLevel = "DEBUG"
	assert.Equal(t, slog.LevelDebug, p.SlogLevel())

	p.LogLevel = "warning"
	assert.Equal(t, slog.LevelWarn, p.SlogLevel())

	p.LogLevel = "nonsense"
	assert.Equal(t, slog.LevelInfo, p.SlogLevel())
}
