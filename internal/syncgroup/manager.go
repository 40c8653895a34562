package syncgroup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/acquisition"
	"github.com/benchsync/benchsync/internal/bus"
	"github.com/benchsync/benchsync/internal/observability"
	"github.com/benchsync/benchsync/internal/schema"
)

// Engine is the slice of acquisition engine behavior the barrier operations
// drive. *acquisition.Engine satisfies it.
type Engine interface {
	StartAcquisition(ctx context.Context, id string) (bool, error)
	StopAcquisition(ctx context.Context, id string) error
	PauseAcquisition(ctx context.Context, id string) (bool, error)
	ResumeAcquisition(ctx context.Context, id string) (bool, error)
	GetSession(id string) (acquisition.Snapshot, error)
	BufferData(id string, n int) (acquisition.BufferData, error)
}

// Options configures a Manager.
type Options struct {
	// Bus receives group lifecycle events. Nil disables publication.
	Bus bus.Bus
}

// Manager is the synchronization group registry. Construct one per process
// and inject it alongside the engine.
type Manager struct {
	engine    Engine
	lifecycle bus.Bus
	clock     func() time.Time

	mu     sync.RWMutex
	groups map[string]*group

	barrierDuration metric.Float64Histogram
	barrierOps      metric.Int64Counter
}

// NewManager constructs a synchronization manager over the given engine.
func NewManager(engine Engine, opts Options) (*Manager, error) {
	if engine == nil {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("engine required"))
	}
	m := &Manager{
		engine:    engine,
		lifecycle: opts.Bus,
		clock:     time.Now,
		groups:    make(map[string]*group),
	}
	meter := otel.Meter("benchsync/syncgroup")
	m.barrierDuration, _ = meter.Float64Histogram("sync.barrier.duration",
		metric.WithDescription("Wall time of one barrier fan-out across all group members"),
		metric.WithUnit("s"))
	m.barrierOps, _ = meter.Int64Counter("sync.barrier.operations",
		metric.WithDescription("Number of barrier operations issued, by operation and result"),
		metric.WithUnit("{operation}"))
	return m, nil
}

// CreateGroup registers a new IDLE group. Duplicate group IDs fail.
func (m *Manager) CreateGroup(ctx context.Context, cfg schema.SyncConfig) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}

	g := &group{
		cfg:       cfg.Clone(),
		state:     schema.GroupIdle,
		members:   make(map[string]string),
		createdAt: m.clock(),
	}

	m.mu.Lock()
	if _, exists := m.groups[cfg.GroupID]; exists {
		m.mu.Unlock()
		return Snapshot{}, errs.New(cfg.GroupID, errs.CodeConflict,
			errs.WithMessage("group "+cfg.GroupID+" already exists"))
	}
	m.groups[cfg.GroupID] = g
	m.mu.Unlock()

	observability.Log().Info("sync group created",
		observability.F("group", cfg.GroupID),
		observability.F("members", len(cfg.Equipment)),
		observability.F("master", cfg.EffectiveMaster()),
		observability.F("wait_for_all", cfg.WaitForAll))
	m.publish(ctx, g, schema.GroupIdle, "")
	return g.snapshot(), nil
}

// AddAcquisition registers a member's session with the group. The equipment ID
// must be a declared member and the session must belong to that equipment. The
// group turns READY the moment the readiness predicate holds.
func (m *Manager) AddAcquisition(ctx context.Context, groupID, equipmentID, acquisitionID string) error {
	g, err := m.lookup(groupID)
	if err != nil {
		return err
	}
	if !declaredMember(g.cfg, equipmentID) {
		return errs.New(equipmentID, errs.CodeInvalid,
			errs.WithMessage("equipment is not a declared member of group "+groupID))
	}
	session, err := m.engine.GetSession(acquisitionID)
	if err != nil {
		return err
	}
	if session.EquipmentID != equipmentID {
		return errs.New(equipmentID, errs.CodeInvalid,
			errs.WithMessage("acquisition belongs to a different instrument"),
			errs.WithCanonicalCode(errs.CanonicalIdentityMismatch),
			errs.WithDeviceField("acquisition_equipment", session.EquipmentID))
	}

	g.mu.Lock()
	if active(g.state) {
		g.mu.Unlock()
		return errs.New(groupID, errs.CodeConflict,
			errs.WithMessage("cannot change membership of an active group"))
	}
	g.members[equipmentID] = acquisitionID
	g.settleIdleLocked()
	state := g.state
	g.mu.Unlock()

	observability.Log().Info("group member registered",
		observability.F("group", groupID),
		observability.F("equipment", equipmentID),
		observability.F("acquisition_id", acquisitionID),
		observability.F("state", string(state)))
	m.publish(ctx, g, state, "")
	return nil
}

// RemoveAcquisition unregisters a member. The group reverts to IDLE when no
// members remain registered.
func (m *Manager) RemoveAcquisition(ctx context.Context, groupID, equipmentID string) error {
	g, err := m.lookup(groupID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if active(g.state) {
		g.mu.Unlock()
		return errs.New(groupID, errs.CodeConflict,
			errs.WithMessage("cannot change membership of an active group"))
	}
	if _, registered := g.members[equipmentID]; !registered {
		g.mu.Unlock()
		return errs.New(equipmentID, errs.CodeNotFound,
			errs.WithMessage("equipment has no registered acquisition in group "+groupID))
	}
	delete(g.members, equipmentID)
	g.settleIdleLocked()
	state := g.state
	g.mu.Unlock()

	m.publish(ctx, g, state, "")
	return nil
}

// GroupStatus returns a copy-out snapshot of one group.
func (m *Manager) GroupStatus(groupID string) (Snapshot, error) {
	g, err := m.lookup(groupID)
	if err != nil {
		return Snapshot{}, err
	}
	return g.snapshot(), nil
}

// ListGroups returns snapshots of every group, sorted by ID.
func (m *Manager) ListGroups() []Snapshot {
	m.mu.RLock()
	groups := make([]*group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(groups))
	for _, g := range groups {
		snapshots = append(snapshots, g.snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].GroupID < snapshots[j].GroupID
	})
	return snapshots
}

// DeleteGroup removes a group. Active groups must be stopped first.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) error {
	g, err := m.lookup(groupID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	switch g.state {
	case schema.GroupIdle, schema.GroupStopped, schema.GroupError:
	default:
		state := g.state
		g.mu.Unlock()
		return errs.New(groupID, errs.CodeConflict,
			errs.WithMessage("group is "+string(state)+"; stop it before deleting"),
			errs.WithRemediation("issue a synchronized stop first"))
	}
	g.mu.Unlock()

	m.mu.Lock()
	delete(m.groups, groupID)
	m.mu.Unlock()

	observability.Log().Info("sync group deleted", observability.F("group", groupID))
	return nil
}

func (m *Manager) lookup(groupID string) (*group, error) {
	m.mu.RLock()
	g, ok := m.groups[groupID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(groupID, errs.CodeNotFound,
			errs.WithMessage("unknown group "+groupID))
	}
	return g, nil
}

func (m *Manager) publish(ctx context.Context, g *group, state schema.GroupState, msg string) {
	if m.lifecycle == nil {
		return
	}
	m.lifecycle.Publish(ctx, bus.Event{
		Type:       bus.EventGroupState,
		GroupID:    g.cfg.GroupID,
		GroupState: state,
		Message:    msg,
		At:         m.clock(),
	})
}

// SetClock overrides the manager clock, primarily for testing.
func (m *Manager) SetClock(clock func() time.Time) {
	if clock == nil {
		m.clock = time.Now
		return
	}
	m.clock = clock
}

func declaredMember(cfg schema.SyncConfig, equipmentID string) bool {
	for _, member := range cfg.Equipment {
		if strings.TrimSpace(member) == equipmentID {
			return true
		}
	}
	return false
}

func active(state schema.GroupState) bool {
	switch state {
	case schema.GroupPreparing, schema.GroupRunning, schema.GroupPaused:
		return true
	default:
		return false
	}
}
