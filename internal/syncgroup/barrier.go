package syncgroup

import (
	"context"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/metric"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/observability"
	"github.com/benchsync/benchsync/internal/schema"
	"github.com/benchsync/benchsync/internal/telemetry"
)

// StartSynchronized drives every registered member through engine start
// concurrently and waits for the full set. All member errors are collected;
// there is no fail-fast and no rollback. Members that started successfully
// keep sampling even when the group lands in ERROR, and an explicit
// synchronized stop is required to reconcile them.
//
// A start is legal whenever the group is not mid-lifecycle and its registered
// members satisfy the readiness predicate, so a STOPPED or ERROR group whose
// membership is intact can be restarted without re-registering anyone.
func (m *Manager) StartSynchronized(ctx context.Context, groupID string) error {
	g, err := m.lookup(groupID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if active(g.state) || !g.readyLocked() {
		notReady := errs.New(groupID, errs.CodeConflict,
			errs.WithMessage("group is "+string(g.state)+" and not ready to start"),
			errs.WithCanonicalCode(errs.CanonicalGroupNotReady))
		g.errors = append(g.errors, notReady.Error())
		g.mu.Unlock()
		m.recordBarrier(ctx, groupID, "start", "rejected", 0)
		return notReady
	}
	g.errors = nil
	g.state = schema.GroupPreparing
	g.barrierStart = m.clock()
	members := g.membersLocked()
	g.mu.Unlock()
	m.publish(ctx, g, schema.GroupPreparing, "")

	began := m.clock()
	failures := m.scatter(ctx, members, func(ctx context.Context, acquisitionID string) error {
		started, err := m.engine.StartAcquisition(ctx, acquisitionID)
		if err != nil {
			return err
		}
		if !started {
			return errs.New("", errs.CodeConflict, errs.WithMessage("acquisition already running"))
		}
		return nil
	})
	elapsed := m.clock().Sub(began)

	return m.settleBarrier(ctx, g, "start", schema.GroupRunning, failures, elapsed)
}

// StopSynchronized stops every member concurrently. Legal from RUNNING and
// PAUSED, and from ERROR so partially started groups can be reconciled.
func (m *Manager) StopSynchronized(ctx context.Context, groupID string) error {
	return m.barrier(ctx, groupID, "stop",
		[]schema.GroupState{schema.GroupRunning, schema.GroupPaused, schema.GroupError},
		schema.GroupStopped,
		func(ctx context.Context, acquisitionID string) error {
			return m.engine.StopAcquisition(ctx, acquisitionID)
		})
}

// PauseSynchronized pauses every member concurrently. Legal only from RUNNING.
func (m *Manager) PauseSynchronized(ctx context.Context, groupID string) error {
	return m.barrier(ctx, groupID, "pause",
		[]schema.GroupState{schema.GroupRunning},
		schema.GroupPaused,
		func(ctx context.Context, acquisitionID string) error {
			paused, err := m.engine.PauseAcquisition(ctx, acquisitionID)
			if err != nil {
				return err
			}
			if !paused {
				return errs.New("", errs.CodeConflict, errs.WithMessage("acquisition not ACQUIRING"))
			}
			return nil
		})
}

// ResumeSynchronized resumes every member concurrently. Legal only from PAUSED.
func (m *Manager) ResumeSynchronized(ctx context.Context, groupID string) error {
	return m.barrier(ctx, groupID, "resume",
		[]schema.GroupState{schema.GroupPaused},
		schema.GroupRunning,
		func(ctx context.Context, acquisitionID string) error {
			resumed, err := m.engine.ResumeAcquisition(ctx, acquisitionID)
			if err != nil {
				return err
			}
			if !resumed {
				return errs.New("", errs.CodeConflict, errs.WithMessage("acquisition not PAUSED"))
			}
			return nil
		})
}

// SynchronizedData copies out up to n of the most recent samples from every
// member's buffer. When the group aligns timestamps, each member additionally
// carries barrier-relative offsets so cross-instrument comparison shares a
// common zero at the barrier start.
func (m *Manager) SynchronizedData(ctx context.Context, groupID string, n int) (Data, error) {
	g, err := m.lookup(groupID)
	if err != nil {
		return Data{}, err
	}
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}

	g.mu.Lock()
	members := g.membersLocked()
	barrierStart := g.barrierStart
	align := g.cfg.AutoAlignTimestamps && !barrierStart.IsZero()
	g.mu.Unlock()

	data := Data{
		GroupID:      groupID,
		BarrierStart: barrierStart,
		Aligned:      align,
		Members:      make(map[string]MemberData, len(members)),
	}
	for equipmentID, acquisitionID := range members {
		buffered, err := m.engine.BufferData(acquisitionID, n)
		if err != nil {
			return Data{}, err
		}
		member := MemberData{
			EquipmentID:   equipmentID,
			AcquisitionID: acquisitionID,
			Channels:      buffered.Channels,
			Values:        buffered.Window.Values,
			Timestamps:    buffered.Window.Timestamps,
		}
		if align {
			member.Offsets = make([]time.Duration, len(member.Timestamps))
			for i, ts := range member.Timestamps {
				member.Offsets[i] = ts.Sub(barrierStart)
			}
		}
		data.Members[equipmentID] = member
	}
	return data, nil
}

// barrier runs one symmetric fan-out lifecycle operation over all members.
func (m *Manager) barrier(ctx context.Context, groupID, operation string, from []schema.GroupState, success schema.GroupState, op func(context.Context, string) error) error {
	g, err := m.lookup(groupID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	legal := false
	for _, state := range from {
		if g.state == state {
			legal = true
			break
		}
	}
	if !legal {
		state := g.state
		g.mu.Unlock()
		m.recordBarrier(ctx, groupID, operation, "rejected", 0)
		return errs.New(groupID, errs.CodeConflict,
			errs.WithMessage("synchronized "+operation+" is illegal from "+string(state)))
	}
	g.errors = nil
	members := g.membersLocked()
	g.mu.Unlock()

	began := m.clock()
	failures := m.scatter(ctx, members, op)
	elapsed := m.clock().Sub(began)

	return m.settleBarrier(ctx, g, operation, success, failures, elapsed)
}

// scatter issues op for every member concurrently and waits for the full set,
// collecting per-member failures. All start calls are issued before any wait
// completes; per-instrument latency never compounds across members.
func (m *Manager) scatter(ctx context.Context, members map[string]string, op func(context.Context, string) error) map[string]error {
	var mu sync.Mutex
	failures := make(map[string]error)

	p := concpool.New().WithMaxGoroutines(len(members))
	for equipmentID, acquisitionID := range members {
		p.Go(func() {
			if err := op(ctx, acquisitionID); err != nil {
				mu.Lock()
				failures[equipmentID] = err
				mu.Unlock()
			}
		})
	}
	p.Wait()
	return failures
}

// settleBarrier records the barrier outcome on the group and returns the
// aggregated member error, if any.
func (m *Manager) settleBarrier(ctx context.Context, g *group, operation string, success schema.GroupState, failures map[string]error, elapsed time.Duration) error {
	groupID := g.cfg.GroupID

	if len(failures) == 0 {
		g.mu.Lock()
		g.state = success
		g.mu.Unlock()
		observability.Log().Info("synchronized "+operation+" completed",
			observability.F("group", groupID),
			observability.F("state", string(success)),
			observability.F("elapsed", elapsed.String()))
		m.publish(ctx, g, success, "")
		m.recordBarrier(ctx, groupID, operation, "success", elapsed)
		return nil
	}

	memberErrors := make([]error, 0, len(failures))
	g.mu.Lock()
	g.state = schema.GroupError
	for _, equipmentID := range sortedKeys(failures) {
		err := failures[equipmentID]
		g.errors = append(g.errors, equipmentID+": "+err.Error())
		memberErrors = append(memberErrors, errs.New(equipmentID, errs.CodeConflict, errs.WithCause(err)))
	}
	g.mu.Unlock()

	m.publish(ctx, g, schema.GroupError, "synchronized "+operation+" partially failed")
	m.recordBarrier(ctx, groupID, operation, "partial_failure", elapsed)
	return observability.AggregateErrors("synchronized "+operation,
		memberErrors, observability.F("group", groupID))
}

func (m *Manager) recordBarrier(ctx context.Context, groupID, operation, result string, elapsed time.Duration) {
	attrs := metric.WithAttributes(telemetry.BarrierAttributes(groupID, operation, result)...)
	if m.barrierOps != nil {
		m.barrierOps.Add(ctx, 1, attrs)
	}
	if m.barrierDuration != nil && elapsed > 0 {
		m.barrierDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
