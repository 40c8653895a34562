package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "benchsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFallbackUsesDefaults(t *testing.T) {
	t.Setenv("BENCHSYNC_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "benchsync", cfg.Telemetry.ServiceName)
	require.Equal(t, 100*time.Millisecond, cfg.Engine.TriggerPollInterval)
	require.Equal(t, 64, cfg.Bus.BufferSize)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadParsesInstrumentsAndGroups(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
telemetry:
  otlpEndpoint: localhost:4318
  serviceName: bench-lab
engine:
  triggerPollInterval: 10ms
instruments:
  - id: scope-01
    driver: fake
    channels:
      CH1:
        waveform: sine
        amplitude: 2.0
        period: 100ms
    acquisition:
      sampleRate: 100
      mode: CONTINUOUS
      channels: [CH1]
      bufferCapacity: 100
      trigger:
        type: IMMEDIATE
  - id: psu-01
    driver: scpi
    scpi:
      address: 127.0.0.1:5025
groups:
  - sync:
      groupId: bench-a
      equipment: [scope-01, psu-01]
      waitForAll: true
    autoStart: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "localhost:4318", cfg.Telemetry.OTLPEndpoint)
	require.Equal(t, 10*time.Millisecond, cfg.Engine.TriggerPollInterval)
	require.Len(t, cfg.Instruments, 2)

	scope := cfg.Instruments[0]
	require.Equal(t, DriverFake, scope.Driver)
	require.NotNil(t, scope.Acquisition)
	// equipmentId is defaulted from the instrument id.
	require.Equal(t, "scope-01", scope.Acquisition.EquipmentID)
	require.Equal(t, 2.0, scope.Channels["CH1"].Amplitude)

	require.Len(t, cfg.Groups, 1)
	require.True(t, cfg.Groups[0].AutoStart)
	require.True(t, cfg.Groups[0].Sync.WaitForAll)
}

func TestLoadRejectsUnknownGroupMember(t *testing.T) {
	path := writeConfig(t, `
instruments:
  - id: scope-01
groups:
  - sync:
      groupId: bench-a
      equipment: [scope-01, ghost-99]
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "ghost-99")
}

func TestLoadRejectsSCPIWithoutAddress(t *testing.T) {
	path := writeConfig(t, `
instruments:
  - id: psu-01
    driver: scpi
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "scpi.address")
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "logLevel: info\n")
	t.Setenv("BENCHSYNC_LOG_LEVEL", "debug")
	t.Setenv("BENCHSYNC_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("BENCHSYNC_EXPORT_DIR", "/tmp/benchsync-exports")
	t.Setenv("BENCHSYNC_TRIGGER_POLL", "25ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "collector:4318", cfg.Telemetry.OTLPEndpoint)
	require.Equal(t, "/tmp/benchsync-exports", cfg.Export.Dir)
	require.Equal(t, 25*time.Millisecond, cfg.Engine.TriggerPollInterval)
}
