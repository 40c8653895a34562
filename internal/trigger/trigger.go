// Package trigger evaluates acquisition trigger conditions over sampled values.
package trigger

import (
	"github.com/benchsync/benchsync/internal/schema"
)

// Fire reports whether the trigger condition holds given the previous and
// current sampled values of the monitored channel. It is a pure function;
// IMMEDIATE and TIME triggers are resolved by the engine before sampling and
// always report true here, and EXTERNAL triggers only fire via an explicit
// signal, never from sampled data.
func Fire(cfg schema.TriggerConfig, previous, current float64) bool {
	switch cfg.Type {
	case schema.TriggerImmediate, schema.TriggerTime:
		return true
	case schema.TriggerExternal:
		return false
	case schema.TriggerLevel:
		return current >= cfg.Level
	case schema.TriggerEdge:
		switch cfg.Edge {
		case schema.EdgeRising:
			return rising(cfg.Level, previous, current)
		case schema.EdgeFalling:
			return falling(cfg.Level, previous, current)
		case schema.EdgeEither:
			return rising(cfg.Level, previous, current) || falling(cfg.Level, previous, current)
		default:
			return false
		}
	default:
		return false
	}
}

// NeedsSampling reports whether the trigger type requires polling the
// monitored channel while waiting.
func NeedsSampling(t schema.TriggerType) bool {
	return t == schema.TriggerLevel || t == schema.TriggerEdge
}

func rising(threshold, previous, current float64) bool {
	return previous < threshold && current >= threshold
}

func falling(threshold, previous, current float64) bool {
	return previous > threshold && current <= threshold
}
