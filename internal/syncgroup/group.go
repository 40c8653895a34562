// Package syncgroup implements multi-instrument synchronization: groups of
// acquisition sessions driven through barrier start/stop/pause/resume and
// timestamp-aligned data retrieval.
package syncgroup

import (
	"sort"
	"sync"
	"time"

	"github.com/benchsync/benchsync/internal/schema"
)

// group is the manager-internal record for one synchronization group.
// Membership and state are guarded by the group mutex; barrier fan-out runs
// outside it so member calls never serialize behind each other.
type group struct {
	cfg schema.SyncConfig

	mu           sync.Mutex
	state        schema.GroupState
	members      map[string]string
	barrierStart time.Time
	errors       []string
	createdAt    time.Time
}

// readyLocked evaluates the readiness predicate over registered members.
func (g *group) readyLocked() bool {
	if g.cfg.WaitForAll {
		return len(g.members) == len(g.cfg.Equipment)
	}
	return len(g.members) > 0
}

// settleIdleLocked recomputes IDLE/READY from membership. Only meaningful for
// non-active states; active states are owned by the barrier operations.
func (g *group) settleIdleLocked() {
	if len(g.members) == 0 {
		g.state = schema.GroupIdle
		return
	}
	if g.readyLocked() {
		g.state = schema.GroupReady
		return
	}
	g.state = schema.GroupIdle
}

func (g *group) membersLocked() map[string]string {
	out := make(map[string]string, len(g.members))
	for equipmentID, acquisitionID := range g.members {
		out[equipmentID] = acquisitionID
	}
	return out
}

func (g *group) snapshotLocked() Snapshot {
	errors := append([]string(nil), g.errors...)
	return Snapshot{
		GroupID:        g.cfg.GroupID,
		Config:         g.cfg.Clone(),
		State:          g.state,
		EquipmentCount: len(g.cfg.Equipment),
		ReadyCount:     len(g.members),
		Members:        g.membersLocked(),
		BarrierStart:   g.barrierStart,
		Errors:         errors,
		CreatedAt:      g.createdAt,
	}
}

func (g *group) snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Snapshot is a copy-out view of one group's configuration, membership, and
// barrier bookkeeping.
type Snapshot struct {
	GroupID        string            `json:"groupId"`
	Config         schema.SyncConfig `json:"config"`
	State          schema.GroupState `json:"state"`
	EquipmentCount int               `json:"equipmentCount"`
	ReadyCount     int               `json:"readyCount"`
	Members        map[string]string `json:"members"`
	BarrierStart   time.Time         `json:"barrierStart,omitempty"`
	Errors         []string          `json:"errors,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// MemberData carries one member's retained samples. Offsets is populated only
// when the group aligns timestamps; each entry is the sample timestamp minus
// the recorded barrier start, so the sample nearest the barrier reads near zero.
type MemberData struct {
	EquipmentID   string          `json:"equipmentId"`
	AcquisitionID string          `json:"acquisitionId"`
	Channels      []string        `json:"channels"`
	Values        [][]float64     `json:"values"`
	Timestamps    []time.Time     `json:"timestamps"`
	Offsets       []time.Duration `json:"offsets,omitempty"`
}

// Data is the synchronized cross-member buffer view.
type Data struct {
	GroupID      string                `json:"groupId"`
	BarrierStart time.Time             `json:"barrierStart,omitempty"`
	Aligned      bool                  `json:"aligned"`
	Members      map[string]MemberData `json:"members"`
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
