// Package bus defines pub/sub primitives for acquisition lifecycle events.
//
// Collaborators with independent lifecycles (alarming, scheduling, export
// bookkeeping) observe the engine through this bus instead of polling session
// state.
package bus

import (
	"context"
	"time"

	"github.com/benchsync/benchsync/internal/schema"
)

// EventType classifies lifecycle events published on the bus.
type EventType string

const (
	// EventSessionState signals an acquisition session state transition.
	EventSessionState EventType = "session.state"
	// EventGroupState signals a synchronization group state transition.
	EventGroupState EventType = "group.state"
)

// Event is one lifecycle notification.
type Event struct {
	Type          EventType           `json:"type"`
	AcquisitionID string              `json:"acquisitionId,omitempty"`
	EquipmentID   string              `json:"equipmentId,omitempty"`
	GroupID       string              `json:"groupId,omitempty"`
	SessionState  schema.SessionState `json:"sessionState,omitempty"`
	GroupState    schema.GroupState   `json:"groupState,omitempty"`
	Message       string              `json:"message,omitempty"`
	At            time.Time           `json:"at"`
}

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers lifecycle events to interested subscribers.
type Bus interface {
	Publish(ctx context.Context, evt Event)
	Subscribe(typ EventType) (SubscriptionID, <-chan Event)
	Unsubscribe(id SubscriptionID)
	Close()
}
