package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/internal/schema"
)

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})
	defer b.Close()

	_, sessionCh := b.Subscribe(EventSessionState)
	_, groupCh := b.Subscribe(EventGroupState)

	b.Publish(context.Background(), Event{
		Type:          EventSessionState,
		AcquisitionID: "a-1",
		EquipmentID:   "scope-01",
		SessionState:  schema.SessionAcquiring,
		At:            time.Now(),
	})

	select {
	case evt := <-sessionCh:
		require.Equal(t, "a-1", evt.AcquisitionID)
		require.Equal(t, schema.SessionAcquiring, evt.SessionState)
	case <-time.After(time.Second):
		t.Fatal("expected session event")
	}

	select {
	case <-groupCh:
		t.Fatal("group subscriber must not receive session events")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishDropsOnBackpressure(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{BufferSize: 1})
	defer b.Close()

	_, ch := b.Subscribe(EventSessionState)
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), Event{Type: EventSessionState, AcquisitionID: "a-1"})
	}

	// Only the buffered event survives; the rest were dropped, not blocked on.
	require.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})
	defer b.Close()

	id, ch := b.Subscribe(EventGroupState)
	b.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(context.Background(), Event{Type: EventGroupState, GroupID: "bench-a"})
}

func TestUnsubscribeDuringFanoutIsSafe(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{BufferSize: 1, FanoutWorkers: 4})
	defer b.Close()

	// Tear subscriptions down while publishes are fanning out to them. A
	// delivery racing the channel close must be dropped, never sent.
	for i := 0; i < 200; i++ {
		id, ch := b.Subscribe(EventSessionState)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish(context.Background(), Event{Type: EventSessionState, AcquisitionID: "a-1"})
			}
		}()

		b.Unsubscribe(id)
		wg.Wait()

		for range ch {
		}
	}
}

func TestCloseTearsDownSubscriptions(t *testing.T) {
	b := NewMemoryBus(MemoryConfig{})
	_, ch := b.Subscribe(EventSessionState)
	b.Close()

	_, open := <-ch
	require.False(t, open)

	// Subscribe after close yields a closed channel.
	_, late := b.Subscribe(EventSessionState)
	_, open = <-late
	require.False(t, open)
}
