// Package config centralises runtime configuration for benchsync services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benchsync/benchsync/internal/schema"
)

// Driver names a supported instrument adapter implementation.
type Driver string

const (
	// DriverFake selects the synthetic waveform adapter.
	DriverFake Driver = "fake"
	// DriverSCPI selects the SCPI-over-TCP adapter.
	DriverSCPI Driver = "scpi"
)

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	OTLPEndpoint string        `yaml:"otlpEndpoint"`
	ServiceName  string        `yaml:"serviceName"`
	Interval     time.Duration `yaml:"interval"`
}

// EngineConfig carries acquisition engine tunables.
type EngineConfig struct {
	TriggerPollInterval time.Duration `yaml:"triggerPollInterval"`
	ExportWorkers       int           `yaml:"exportWorkers"`
}

// BusConfig sets lifecycle bus buffer sizing.
type BusConfig struct {
	BufferSize    int `yaml:"bufferSize"`
	FanoutWorkers int `yaml:"fanoutWorkers"`
}

// ExportConfig controls where stop-time exports land.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// ChannelConfig describes one synthetic channel of a fake instrument.
type ChannelConfig struct {
	Waveform  string        `yaml:"waveform"`
	Amplitude float64       `yaml:"amplitude"`
	Offset    float64       `yaml:"offset"`
	Period    time.Duration `yaml:"period"`
}

// SCPIConfig declares SCPI transport settings for one instrument.
type SCPIConfig struct {
	Address      string        `yaml:"address"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	MaxRetryTime time.Duration `yaml:"maxRetryTime"`
}

// InstrumentConfig declares one instrument and, optionally, the acquisition
// session to create for it at startup.
type InstrumentConfig struct {
	ID          string                    `yaml:"id"`
	Driver      Driver                    `yaml:"driver"`
	Vendor      string                    `yaml:"vendor"`
	Model       string                    `yaml:"model"`
	Channels    map[string]ChannelConfig  `yaml:"channels"`
	SCPI        SCPIConfig                `yaml:"scpi"`
	Acquisition *schema.AcquisitionConfig `yaml:"acquisition"`
}

// GroupConfig declares one synchronization group assembled at startup.
type GroupConfig struct {
	Sync      schema.SyncConfig `yaml:"sync"`
	AutoStart bool              `yaml:"autoStart"`
}

// Settings contains the benchsync configuration tree loaded from defaults and overrides.
type Settings struct {
	LogLevel    string             `yaml:"logLevel"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Engine      EngineConfig       `yaml:"engine"`
	Bus         BusConfig          `yaml:"bus"`
	Export      ExportConfig       `yaml:"export"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Groups      []GroupConfig      `yaml:"groups"`
}

// Default returns the default benchsync configuration.
func Default() Settings {
	return Settings{
		LogLevel: "info",
		Telemetry: TelemetryConfig{
			ServiceName: "benchsync",
			Interval:    15 * time.Second,
		},
		Engine: EngineConfig{
			TriggerPollInterval: 100 * time.Millisecond,
			ExportWorkers:       2,
		},
		Bus: BusConfig{
			BufferSize:    64,
			FanoutWorkers: 4,
		},
		Export: ExportConfig{
			Dir: "exports",
		},
	}
}

// Load reads a configuration YAML document from disk, applies environment
// overrides, and validates the result. An empty path falls back to
// BENCHSYNC_CONFIG and then to config/benchsync.yaml; when no file exists at
// the fallback path, defaults are used.
func Load(path string) (Settings, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("BENCHSYNC_CONFIG"))
		if path != "" {
			explicit = true
		} else {
			path = "config/benchsync.yaml"
		}
	}

	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Fallback path with no file: run on defaults.
	default:
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg = cfg.fromEnv().normalize()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// fromEnv applies BENCHSYNC_* environment overrides.
func (s Settings) fromEnv() Settings {
	if v := strings.TrimSpace(os.Getenv("BENCHSYNC_LOG_LEVEL")); v != "" {
		s.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("BENCHSYNC_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("BENCHSYNC_SERVICE_NAME")); v != "" {
		s.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("BENCHSYNC_EXPORT_DIR")); v != "" {
		s.Export.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("BENCHSYNC_TRIGGER_POLL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			s.Engine.TriggerPollInterval = dur
		}
	}
	return s
}

func (s Settings) normalize() Settings {
	if strings.TrimSpace(s.LogLevel) == "" {
		s.LogLevel = "info"
	}
	if strings.TrimSpace(s.Telemetry.ServiceName) == "" {
		s.Telemetry.ServiceName = "benchsync"
	}
	if s.Telemetry.Interval <= 0 {
		s.Telemetry.Interval = 15 * time.Second
	}
	if s.Engine.TriggerPollInterval <= 0 {
		s.Engine.TriggerPollInterval = 100 * time.Millisecond
	}
	if s.Engine.ExportWorkers <= 0 {
		s.Engine.ExportWorkers = 2
	}
	if s.Bus.BufferSize <= 0 {
		s.Bus.BufferSize = 64
	}
	if s.Bus.FanoutWorkers <= 0 {
		s.Bus.FanoutWorkers = 4
	}
	if strings.TrimSpace(s.Export.Dir) == "" {
		s.Export.Dir = "exports"
	}
	for i := range s.Instruments {
		inst := &s.Instruments[i]
		if inst.Driver == "" {
			inst.Driver = DriverFake
		}
		if inst.Acquisition != nil && strings.TrimSpace(inst.Acquisition.EquipmentID) == "" {
			inst.Acquisition.EquipmentID = inst.ID
		}
	}
	return s
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate() error {
	switch s.LogLevel {
	case "debug", "info":
	default:
		return fmt.Errorf("logLevel must be debug or info, got %q", s.LogLevel)
	}

	ids := make(map[string]struct{}, len(s.Instruments))
	for i, inst := range s.Instruments {
		id := strings.TrimSpace(inst.ID)
		if id == "" {
			return fmt.Errorf("instrument[%d]: id required", i)
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("instrument[%d]: duplicate id %s", i, id)
		}
		ids[id] = struct{}{}

		switch inst.Driver {
		case DriverFake:
		case DriverSCPI:
			if strings.TrimSpace(inst.SCPI.Address) == "" {
				return fmt.Errorf("instrument %s: scpi.address required", id)
			}
		default:
			return fmt.Errorf("instrument %s: unknown driver %q", id, inst.Driver)
		}

		if inst.Acquisition != nil {
			if inst.Acquisition.EquipmentID != id {
				return fmt.Errorf("instrument %s: acquisition equipmentId mismatch", id)
			}
			if err := inst.Acquisition.Validate(); err != nil {
				return fmt.Errorf("instrument %s: %w", id, err)
			}
		}
	}

	groups := make(map[string]struct{}, len(s.Groups))
	for i, grp := range s.Groups {
		if err := grp.Sync.Validate(); err != nil {
			return fmt.Errorf("group[%d]: %w", i, err)
		}
		if _, dup := groups[grp.Sync.GroupID]; dup {
			return fmt.Errorf("group[%d]: duplicate id %s", i, grp.Sync.GroupID)
		}
		groups[grp.Sync.GroupID] = struct{}{}
		for _, member := range grp.Sync.Equipment {
			if _, declared := ids[member]; !declared {
				return fmt.Errorf("group %s: member %s is not a configured instrument", grp.Sync.GroupID, member)
			}
		}
	}
	return nil
}
