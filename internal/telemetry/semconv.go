// Package telemetry configures OpenTelemetry metrics and semantic conventions for benchsync.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for benchsync-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEquipment identifies the instrument the signal was produced for.
	AttrEquipment = attribute.Key("equipment.id")
	// AttrChannel captures the measurement channel identifier (e.g. CH1, VOLT).
	AttrChannel = attribute.Key("channel")
	// AttrAcquisition labels metrics with the owning acquisition session ID.
	AttrAcquisition = attribute.Key("acquisition.id")
	// AttrSessionState records the session lifecycle state a transition landed in.
	AttrSessionState = attribute.Key("session.state")
	// AttrGroup identifies the synchronization group involved in a barrier operation.
	AttrGroup = attribute.Key("group.id")
	// AttrOperation differentiates specific engine operations (start, stop, barrier_start, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrTriggerType labels trigger-wait metrics with the configured trigger kind.
	AttrTriggerType = attribute.Key("trigger.type")
	// AttrEventType annotates bus counters with the published lifecycle event type.
	AttrEventType = attribute.Key("event.type")
)

// SampleAttributes returns attributes for sampling loop metrics.
func SampleAttributes(equipment, acquisitionID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEquipment.String(equipment),
		AttrAcquisition.String(acquisitionID),
	}
}

// BarrierAttributes returns attributes for synchronization barrier metrics.
func BarrierAttributes(group, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrGroup.String(group),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}
