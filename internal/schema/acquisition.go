// Package schema defines the canonical acquisition and synchronization data model.
package schema

import (
	"strings"
	"time"

	"github.com/benchsync/benchsync/errs"
)

// AcquisitionMode selects how a sampling run terminates.
type AcquisitionMode string

const (
	// ModeContinuous samples until explicitly stopped.
	ModeContinuous AcquisitionMode = "CONTINUOUS"
	// ModeSingleShot samples until the configured sample limit is reached.
	ModeSingleShot AcquisitionMode = "SINGLE_SHOT"
	// ModeTriggered behaves like continuous sampling gated by a trigger condition.
	ModeTriggered AcquisitionMode = "TRIGGERED"
)

// TriggerType identifies the condition gating the start of active sampling.
type TriggerType string

const (
	// TriggerImmediate starts sampling without waiting.
	TriggerImmediate TriggerType = "IMMEDIATE"
	// TriggerLevel fires when the monitored channel reaches a threshold.
	TriggerLevel TriggerType = "LEVEL"
	// TriggerEdge fires on a threshold crossing in the configured direction.
	TriggerEdge TriggerType = "EDGE"
	// TriggerTime fires after a fixed delay.
	TriggerTime TriggerType = "TIME"
	// TriggerExternal fires when an external signal is delivered to the session.
	TriggerExternal TriggerType = "EXTERNAL"
)

// EdgeDirection selects which threshold crossings fire an edge trigger.
type EdgeDirection string

const (
	// EdgeRising fires when the value crosses the threshold upward.
	EdgeRising EdgeDirection = "RISING"
	// EdgeFalling fires when the value crosses the threshold downward.
	EdgeFalling EdgeDirection = "FALLING"
	// EdgeEither fires on crossings in both directions.
	EdgeEither EdgeDirection = "EITHER"
)

// SessionState tracks the lifecycle of one acquisition session.
type SessionState string

const (
	// SessionIdle marks a created session that has not started sampling.
	SessionIdle SessionState = "IDLE"
	// SessionWaitingTrigger marks a session polling for its trigger condition.
	SessionWaitingTrigger SessionState = "WAITING_TRIGGER"
	// SessionAcquiring marks a session actively writing samples.
	SessionAcquiring SessionState = "ACQUIRING"
	// SessionPaused marks a session whose loop is alive but not sampling.
	SessionPaused SessionState = "PAUSED"
	// SessionStopped marks a session whose loop has exited normally.
	SessionStopped SessionState = "STOPPED"
	// SessionError marks a session whose loop exited with a fatal failure.
	SessionError SessionState = "ERROR"
)

// TriggerConfig describes the condition gating active sampling.
type TriggerConfig struct {
	Type    TriggerType   `json:"type" yaml:"type"`
	Channel string        `json:"channel,omitempty" yaml:"channel"`
	Level   float64       `json:"level,omitempty" yaml:"level"`
	Edge    EdgeDirection `json:"edge,omitempty" yaml:"edge"`
	Delay   time.Duration `json:"delay,omitempty" yaml:"delay"`
}

// ExportRequest asks the engine to hand the final buffer snapshot to an exporter at stop time.
type ExportRequest struct {
	Format string `json:"format" yaml:"format"`
	Path   string `json:"path,omitempty" yaml:"path"`
}

// MinBufferCapacity is the smallest per-channel ring buffer the engine will allocate.
const MinBufferCapacity = 100

// AcquisitionConfig is the immutable per-session sampling configuration.
type AcquisitionConfig struct {
	EquipmentID    string          `json:"equipmentId" yaml:"equipmentId"`
	SampleRate     float64         `json:"sampleRate" yaml:"sampleRate"`
	Mode           AcquisitionMode `json:"mode" yaml:"mode"`
	SampleLimit    int             `json:"sampleLimit,omitempty" yaml:"sampleLimit"`
	Duration       time.Duration   `json:"duration,omitempty" yaml:"duration"`
	Channels       []string        `json:"channels" yaml:"channels"`
	Trigger        TriggerConfig   `json:"trigger" yaml:"trigger"`
	BufferCapacity int             `json:"bufferCapacity" yaml:"bufferCapacity"`
	Export         *ExportRequest  `json:"export,omitempty" yaml:"export"`
}

// Validate checks the trigger configuration in isolation.
func (t TriggerConfig) Validate(equipment string) error {
	switch t.Type {
	case TriggerImmediate, TriggerTime, TriggerExternal:
	case TriggerLevel:
		if strings.TrimSpace(t.Channel) == "" {
			return errs.New(equipment, errs.CodeInvalid,
				errs.WithMessage("level trigger requires a monitored channel"),
				errs.WithCanonicalCode(errs.CanonicalTriggerMisconfigured))
		}
	case TriggerEdge:
		if strings.TrimSpace(t.Channel) == "" {
			return errs.New(equipment, errs.CodeInvalid,
				errs.WithMessage("edge trigger requires a monitored channel"),
				errs.WithCanonicalCode(errs.CanonicalTriggerMisconfigured))
		}
		switch t.Edge {
		case EdgeRising, EdgeFalling, EdgeEither:
		default:
			return errs.New(equipment, errs.CodeInvalid,
				errs.WithMessage("edge trigger requires a direction"),
				errs.WithCanonicalCode(errs.CanonicalTriggerMisconfigured))
		}
	default:
		return errs.New(equipment, errs.CodeInvalid,
			errs.WithMessage("unknown trigger type "+string(t.Type)),
			errs.WithCanonicalCode(errs.CanonicalTriggerMisconfigured))
	}
	if t.Type == TriggerTime && t.Delay < 0 {
		return errs.New(equipment, errs.CodeInvalid,
			errs.WithMessage("time trigger delay must not be negative"),
			errs.WithCanonicalCode(errs.CanonicalTriggerMisconfigured))
	}
	return nil
}

// Validate checks structural invariants of the acquisition configuration.
func (c AcquisitionConfig) Validate() error {
	equipment := strings.TrimSpace(c.EquipmentID)
	if equipment == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("equipment ID required"))
	}
	if c.SampleRate <= 0 {
		return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("sample rate must be > 0 Hz"))
	}
	switch c.Mode {
	case ModeContinuous, ModeSingleShot, ModeTriggered:
	default:
		return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("unknown acquisition mode "+string(c.Mode)))
	}
	if c.Mode == ModeSingleShot && c.SampleLimit <= 0 {
		return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("single-shot mode requires a sample limit"))
	}
	if c.SampleLimit < 0 {
		return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("sample limit must not be negative"))
	}
	if c.Duration < 0 {
		return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("duration limit must not be negative"))
	}
	if len(c.Channels) == 0 {
		return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("at least one channel required"))
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		name := strings.TrimSpace(ch)
		if name == "" {
			return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("channel identifiers must not be empty"))
		}
		if _, dup := seen[name]; dup {
			return errs.New(equipment, errs.CodeInvalid, errs.WithMessage("duplicate channel "+name))
		}
		seen[name] = struct{}{}
	}
	if c.BufferCapacity < MinBufferCapacity {
		return errs.New(equipment, errs.CodeInvalid,
			errs.WithMessage("buffer capacity must be at least 100 samples per channel"))
	}
	if err := c.Trigger.Validate(equipment); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c AcquisitionConfig) Clone() AcquisitionConfig {
	clone := c
	clone.Channels = append([]string(nil), c.Channels...)
	if c.Export != nil {
		exported := *c.Export
		clone.Export = &exported
	}
	return clone
}
