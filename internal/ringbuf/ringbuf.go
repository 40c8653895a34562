// Package ringbuf implements the fixed-capacity multi-channel sample store
// backing each acquisition session.
package ringbuf

import (
	"math"
	"sync"
	"time"

	"github.com/benchsync/benchsync/errs"
)

// ChannelStats summarizes retained samples for one channel.
// NaN samples (failed channel reads) are excluded.
type ChannelStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Count  int     `json:"count"`
}

// Stats reports the buffer's occupancy and per-channel aggregates.
type Stats struct {
	Capacity    int            `json:"capacity"`
	Count       int            `json:"count"`
	Overruns    uint64         `json:"overruns"`
	Utilization float64        `json:"utilization"`
	Channels    []ChannelStats `json:"channels"`
}

// Window is a copy-out view of retained samples, oldest to newest.
// Values is indexed [channel][sample] and aligned with Timestamps.
type Window struct {
	Values     [][]float64
	Timestamps []time.Time
}

// Buffer is a fixed-capacity circular store of timestamped multi-channel samples.
//
// Exactly one writer (the owning sampling loop) calls Add; any number of
// readers may call the accessor methods concurrently. All reads copy out,
// so returned slices never alias internal storage.
type Buffer struct {
	mu         sync.Mutex
	values     [][]float64
	timestamps []time.Time
	capacity   int
	channels   int
	writeIndex uint64
	count      int
	overruns   uint64
}

// New allocates a buffer holding capacity samples for each of channels rows.
func New(capacity, channels int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("buffer capacity must be > 0"))
	}
	if channels <= 0 {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("buffer requires at least one channel"))
	}
	values := make([][]float64, channels)
	for i := range values {
		values[i] = make([]float64, capacity)
	}
	return &Buffer{
		values:     values,
		timestamps: make([]time.Time, capacity),
		capacity:   capacity,
		channels:   channels,
	}, nil
}

// Capacity returns the per-channel sample capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// Channels returns the number of channel rows.
func (b *Buffer) Channels() int { return b.channels }

// Add writes one sample vector at the given timestamp. The values slice must
// contain exactly one entry per channel. Once the buffer has wrapped, every
// further write evicts the oldest sample and counts one overrun.
func (b *Buffer) Add(values []float64, ts time.Time) error {
	if len(values) != b.channels {
		return errs.New("", errs.CodeInvalid,
			errs.WithMessage("sample vector size does not match channel count"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == b.capacity {
		b.overruns++
	}
	slot := int(b.writeIndex % uint64(b.capacity))
	for ch := range values {
		b.values[ch][slot] = values[ch]
	}
	b.timestamps[slot] = ts
	b.writeIndex++
	if b.count < b.capacity {
		b.count++
	}
	return nil
}

// Count returns the number of retained samples per channel.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Overruns returns the number of writes that evicted unconsumed data.
func (b *Buffer) Overruns() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}

// Latest copies out up to n of the most recent samples per channel together
// with their timestamps, ordered oldest to newest. n <= 0 returns everything
// currently retained.
func (b *Buffer) Latest(n int) Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	window := Window{
		Values:     make([][]float64, b.channels),
		Timestamps: make([]time.Time, n),
	}
	for ch := range window.Values {
		window.Values[ch] = make([]float64, n)
	}
	if n == 0 {
		return window
	}

	// The window may straddle the wrap boundary; walk it as two contiguous
	// spans ending at the most recent write.
	next := int(b.writeIndex % uint64(b.capacity))
	start := next - n
	if start < 0 {
		start += b.capacity
	}
	for i := 0; i < n; i++ {
		slot := (start + i) % b.capacity
		for ch := range b.values {
			window.Values[ch][i] = b.values[ch][slot]
		}
		window.Timestamps[i] = b.timestamps[slot]
	}
	return window
}

// All copies out every retained sample, oldest to newest.
func (b *Buffer) All() Window {
	return b.Latest(0)
}

// Clear resets indices, occupancy, and the overrun counter without changing capacity.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeIndex = 0
	b.count = 0
	b.overruns = 0
	for ch := range b.values {
		for i := range b.values[ch] {
			b.values[ch][i] = 0
		}
	}
	for i := range b.timestamps {
		b.timestamps[i] = time.Time{}
	}
}

// Stats computes occupancy and per-channel aggregates over retained data.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Capacity: b.capacity,
		Count:    b.count,
		Overruns: b.overruns,
		Channels: make([]ChannelStats, b.channels),
	}
	if b.capacity > 0 {
		stats.Utilization = float64(b.count) / float64(b.capacity)
	}
	if b.count == 0 {
		return stats
	}

	next := int(b.writeIndex % uint64(b.capacity))
	start := next - b.count
	if start < 0 {
		start += b.capacity
	}
	for ch := range b.values {
		stats.Channels[ch] = summarize(b.values[ch], start, b.count, b.capacity)
	}
	return stats
}

func summarize(row []float64, start, count, capacity int) ChannelStats {
	cs := ChannelStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for i := 0; i < count; i++ {
		v := row[(start+i)%capacity]
		if math.IsNaN(v) {
			continue
		}
		if v < cs.Min {
			cs.Min = v
		}
		if v > cs.Max {
			cs.Max = v
		}
		sum += v
		cs.Count++
	}
	if cs.Count == 0 {
		return ChannelStats{}
	}
	cs.Mean = sum / float64(cs.Count)

	var sq float64
	for i := 0; i < count; i++ {
		v := row[(start+i)%capacity]
		if math.IsNaN(v) {
			continue
		}
		d := v - cs.Mean
		sq += d * d
	}
	cs.StdDev = math.Sqrt(sq / float64(cs.Count))
	return cs
}
