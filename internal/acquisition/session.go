// Package acquisition implements the per-session acquisition engine: session
// lifecycle, sampling loops, trigger waits, and buffer ownership.
package acquisition

import (
	"sync"
	"time"

	"github.com/benchsync/benchsync/internal/equipment"
	"github.com/benchsync/benchsync/internal/ringbuf"
	"github.com/benchsync/benchsync/internal/schema"
)

// Stats accumulates sampling counters for one session. It is mutated only by
// the session's own sampling loop; readers receive copies.
type Stats struct {
	TotalSamples     uint64                          `json:"totalSamples"`
	ChannelSamples   map[string]uint64               `json:"channelSamples"`
	InvalidSamples   map[string]uint64               `json:"invalidSamples,omitempty"`
	StartedAt        time.Time                       `json:"startedAt,omitempty"`
	EndedAt          time.Time                       `json:"endedAt,omitempty"`
	ActualSampleRate float64                         `json:"actualSampleRate,omitempty"`
	Overruns         uint64                          `json:"overruns"`
	Channels         map[string]ringbuf.ChannelStats `json:"channels,omitempty"`
}

func newStats(channels []string) Stats {
	stats := Stats{
		ChannelSamples: make(map[string]uint64, len(channels)),
		InvalidSamples: make(map[string]uint64, len(channels)),
	}
	for _, ch := range channels {
		stats.ChannelSamples[ch] = 0
	}
	return stats
}

func (s Stats) clone() Stats {
	out := s
	out.ChannelSamples = make(map[string]uint64, len(s.ChannelSamples))
	for k, v := range s.ChannelSamples {
		out.ChannelSamples[k] = v
	}
	out.InvalidSamples = make(map[string]uint64, len(s.InvalidSamples))
	for k, v := range s.InvalidSamples {
		out.InvalidSamples[k] = v
	}
	if s.Channels != nil {
		out.Channels = make(map[string]ringbuf.ChannelStats, len(s.Channels))
		for k, v := range s.Channels {
			out.Channels[k] = v
		}
	}
	return out
}

// session is the engine-internal record for one acquisition.
// The state field synchronizes the sampling loop with lifecycle calls; both
// sides take the session mutex for every access.
type session struct {
	id     string
	config schema.AcquisitionConfig
	device equipment.Device
	buffer *ringbuf.Buffer

	mu        sync.Mutex
	state     schema.SessionState
	stats     Stats
	createdAt time.Time
	stoppedAt time.Time
	errMsg    string

	cancel   func()
	done     chan struct{}
	external chan struct{}
}

func (s *session) snapshotLocked() Snapshot {
	return Snapshot{
		AcquisitionID: s.id,
		EquipmentID:   s.config.EquipmentID,
		Config:        s.config.Clone(),
		State:         s.state,
		Stats:         s.stats.clone(),
		CreatedAt:     s.createdAt,
		StoppedAt:     s.stoppedAt,
		Error:         s.errMsg,
		Buffer:        s.buffer.Stats(),
	}
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *session) currentState() schema.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// runningLocked reports whether a sampling loop is alive for this session.
func (s *session) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Snapshot is a copy-out view of one session's identity, state, and counters.
type Snapshot struct {
	AcquisitionID string                   `json:"acquisitionId"`
	EquipmentID   string                   `json:"equipmentId"`
	Config        schema.AcquisitionConfig `json:"config"`
	State         schema.SessionState      `json:"state"`
	Stats         Stats                    `json:"stats"`
	CreatedAt     time.Time                `json:"createdAt"`
	StoppedAt     time.Time                `json:"stoppedAt,omitempty"`
	Error         string                   `json:"error,omitempty"`
	Buffer        ringbuf.Stats            `json:"buffer"`
}

// BufferData is a copy-out view of a session's retained samples.
type BufferData struct {
	AcquisitionID string         `json:"acquisitionId"`
	EquipmentID   string         `json:"equipmentId"`
	Channels      []string       `json:"channels"`
	Window        ringbuf.Window `json:"window"`
}
