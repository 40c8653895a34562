package bus

import (
	"context"
	"strconv"
	"sync"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/benchsync/benchsync/internal/telemetry"
)

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize    int
	FanoutWorkers int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}

// subscriber owns one delivery channel. Its mutex serializes deliveries
// against teardown: Publish fans out without holding the bus lock, so the
// channel may only be closed while no send is in flight.
type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// deliver attempts a non-blocking send. It reports false when the subscriber
// is full or already torn down.
func (s *subscriber) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// MemoryBus is an in-memory implementation of the lifecycle bus.
// Slow subscribers never block publishers: deliveries to a full subscriber
// channel are dropped and counted.
type MemoryBus struct {
	cfg MemoryConfig

	mu          sync.RWMutex
	subscribers map[EventType]map[SubscriptionID]*subscriber
	closed      bool
	nextID      uint64

	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
	subscriberGauge  metric.Int64UpDownCounter
}

// NewMemoryBus constructs a memory-backed lifecycle bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	b := new(MemoryBus)
	b.cfg = cfg.normalize()
	b.subscribers = make(map[EventType]map[SubscriptionID]*subscriber)

	meter := otel.Meter("benchsync/bus")
	b.publishedCounter, _ = meter.Int64Counter("bus.events.published",
		metric.WithDescription("Number of lifecycle events published to the bus"),
		metric.WithUnit("{event}"))
	b.droppedCounter, _ = meter.Int64Counter("bus.events.dropped",
		metric.WithDescription("Number of deliveries dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))
	b.subscriberGauge, _ = meter.Int64UpDownCounter("bus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))
	return b
}

// Publish fans the event out to all subscribers of its type.
func (b *MemoryBus) Publish(ctx context.Context, evt Event) {
	if evt.Type == "" {
		return
	}

	b.mu.RLock()
	subMap := b.subscribers[evt.Type]
	targets := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		targets = append(targets, sub)
	}
	closed := b.closed
	b.mu.RUnlock()

	if closed || len(targets) == 0 {
		return
	}

	if b.publishedCounter != nil {
		b.publishedCounter.Add(ctx, 1, metric.WithAttributes(
			telemetry.AttrEventType.String(string(evt.Type))))
	}

	workers := b.cfg.FanoutWorkers
	if workers > len(targets) {
		workers = len(targets)
	}
	p := concpool.New().WithMaxGoroutines(workers)
	for _, target := range targets {
		sub := target
		p.Go(func() {
			if !sub.deliver(evt) {
				if b.droppedCounter != nil {
					b.droppedCounter.Add(ctx, 1, metric.WithAttributes(
						telemetry.AttrEventType.String(string(evt.Type))))
				}
			}
		})
	}
	p.Wait()
}

// Subscribe registers interest in one event type.
func (b *MemoryBus) Subscribe(typ EventType) (SubscriptionID, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := SubscriptionID(string(typ) + "#" + strconv.FormatUint(b.nextID, 10))
	sub := &subscriber{ch: make(chan Event, b.cfg.BufferSize)}
	if b.closed {
		sub.close()
		return id, sub.ch
	}
	if b.subscribers[typ] == nil {
		b.subscribers[typ] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[typ][id] = sub
	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(context.Background(), 1)
	}
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// while a publish is fanning out to the same subscription.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	var sub *subscriber
	for typ, subMap := range b.subscribers {
		if found, ok := subMap[id]; ok {
			sub = found
			delete(subMap, id)
			if len(subMap) == 0 {
				delete(b.subscribers, typ)
			}
			if b.subscriberGauge != nil {
				b.subscriberGauge.Add(context.Background(), -1)
			}
			break
		}
	}
	b.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Close tears down all subscriptions.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*subscriber
	for typ, subMap := range b.subscribers {
		for id, sub := range subMap {
			delete(subMap, id)
			subs = append(subs, sub)
		}
		delete(b.subscribers, typ)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
