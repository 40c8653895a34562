package acquisition

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/bus"
	"github.com/benchsync/benchsync/internal/equipment"
	"github.com/benchsync/benchsync/internal/observability"
	"github.com/benchsync/benchsync/internal/ringbuf"
	"github.com/benchsync/benchsync/internal/schema"
	"github.com/benchsync/benchsync/internal/telemetry"
	"github.com/benchsync/benchsync/lib/async"
)

const (
	defaultTriggerPoll   = 100 * time.Millisecond
	defaultExportWorkers = 2
	defaultExportQueue   = 8
	exportTimeout        = 30 * time.Second
)

// Options configures an Engine.
type Options struct {
	// Exporter receives stop-time buffer snapshots for sessions that request
	// an export. Nil disables exporting.
	Exporter Exporter
	// Bus receives lifecycle events. Nil disables publication.
	Bus bus.Bus
	// TriggerPollInterval sets the trigger-wait polling cadence.
	TriggerPollInterval time.Duration
	// ExportWorkers bounds concurrent export jobs.
	ExportWorkers int
}

// Engine owns the session registry and drives every session through its
// lifecycle. Construct one per process and inject it where needed; there is
// no package-level instance.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session

	exporter    Exporter
	lifecycle   bus.Bus
	exports     *async.Pool
	triggerPoll time.Duration
	clock       func() time.Time

	samplesCounter    metric.Int64Counter
	invalidCounter    metric.Int64Counter
	overrunCounter    metric.Int64Counter
	triggerCounter    metric.Int64Counter
	transitionCounter metric.Int64Counter
	activeSessions    metric.Int64UpDownCounter
}

// NewEngine constructs an acquisition engine.
func NewEngine(opts Options) (*Engine, error) {
	triggerPoll := opts.TriggerPollInterval
	if triggerPoll <= 0 {
		triggerPoll = defaultTriggerPoll
	}
	workers := opts.ExportWorkers
	if workers <= 0 {
		workers = defaultExportWorkers
	}
	exports, err := async.NewPool(workers, defaultExportQueue)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		sessions:    make(map[string]*session),
		exporter:    opts.Exporter,
		lifecycle:   opts.Bus,
		exports:     exports,
		triggerPoll: triggerPoll,
		clock:       time.Now,
	}

	meter := otel.Meter("benchsync/acquisition")
	e.samplesCounter, _ = meter.Int64Counter("acquisition.samples.written",
		metric.WithDescription("Number of sample vectors written into session buffers"),
		metric.WithUnit("{sample}"))
	e.invalidCounter, _ = meter.Int64Counter("acquisition.samples.invalid",
		metric.WithDescription("Number of per-channel reads degraded to an invalid value"),
		metric.WithUnit("{sample}"))
	e.overrunCounter, _ = meter.Int64Counter("acquisition.buffer.overruns",
		metric.WithDescription("Number of buffer overruns accumulated by finished sessions"),
		metric.WithUnit("{sample}"))
	e.triggerCounter, _ = meter.Int64Counter("acquisition.trigger.fired",
		metric.WithDescription("Number of trigger conditions that released a waiting session"),
		metric.WithUnit("{trigger}"))
	e.transitionCounter, _ = meter.Int64Counter("acquisition.state.transitions",
		metric.WithDescription("Number of session state transitions, by resulting state"),
		metric.WithUnit("{transition}"))
	e.activeSessions, _ = meter.Int64UpDownCounter("acquisition.sessions.active",
		metric.WithDescription("Number of sessions with a live sampling loop"),
		metric.WithUnit("{session}"))
	return e, nil
}

// Close stops every session and drains in-flight export jobs.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	var failures []error
	for _, id := range ids {
		if err := e.StopAcquisition(ctx, id); err != nil && !errs.HasCode(err, errs.CodeNotFound) {
			failures = append(failures, err)
		}
	}
	if err := e.exports.Shutdown(ctx); err != nil {
		failures = append(failures, err)
	}
	return observability.AggregateErrors("engine close", failures)
}

// CreateSession validates the configuration against the device and registers
// an IDLE session with a freshly allocated ring buffer. No sampling starts.
func (e *Engine) CreateSession(ctx context.Context, device equipment.Device, cfg schema.AcquisitionConfig) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("create session context: %w", err)
	}
	if device == nil {
		return Snapshot{}, errs.New(cfg.EquipmentID, errs.CodeInvalid, errs.WithMessage("device required"))
	}
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}
	if reported := strings.TrimSpace(device.Info().ID); reported != cfg.EquipmentID {
		return Snapshot{}, errs.New(cfg.EquipmentID, errs.CodeInvalid,
			errs.WithMessage("configured equipment ID does not match device identity"),
			errs.WithCanonicalCode(errs.CanonicalIdentityMismatch),
			errs.WithDeviceField("reported_id", reported))
	}

	buffer, err := ringbuf.New(cfg.BufferCapacity, len(cfg.Channels))
	if err != nil {
		return Snapshot{}, err
	}

	s := &session{
		id:        uuid.NewString(),
		config:    cfg.Clone(),
		device:    device,
		buffer:    buffer,
		state:     schema.SessionIdle,
		stats:     newStats(cfg.Channels),
		createdAt: e.clock(),
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	observability.Log().Info("session created",
		observability.F("acquisition_id", s.id),
		observability.F("equipment", cfg.EquipmentID),
		observability.F("channels", len(cfg.Channels)),
		observability.F("buffer_capacity", cfg.BufferCapacity))
	e.publishSession(ctx, s, schema.SessionIdle, "")
	return s.snapshot(), nil
}

// StartAcquisition spawns the sampling loop for the session. Starting a
// session whose loop is already alive is a no-op failure, not an error.
func (e *Engine) StartAcquisition(ctx context.Context, id string) (bool, error) {
	s, err := e.lookup(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.runningLocked() {
		s.mu.Unlock()
		return false, nil
	}
	s.buffer.Clear()
	s.stats = newStats(s.config.Channels)
	s.stats.StartedAt = e.clock()
	s.stoppedAt = time.Time{}
	s.errMsg = ""

	initial := schema.SessionAcquiring
	if s.config.Trigger.Type != schema.TriggerImmediate {
		initial = schema.SessionWaitingTrigger
	}
	s.state = initial

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.external = make(chan struct{}, 1)
	s.mu.Unlock()

	if e.activeSessions != nil {
		e.activeSessions.Add(ctx, 1, metric.WithAttributes(
			telemetry.AttrEquipment.String(s.config.EquipmentID)))
	}
	observability.Log().Info("acquisition started",
		observability.F("acquisition_id", s.id),
		observability.F("equipment", s.config.EquipmentID),
		observability.F("state", string(initial)))
	e.publishSession(ctx, s, initial, "")

	go e.runLoop(loopCtx, s)
	return true, nil
}

// StopAcquisition cancels the sampling loop, awaits its exit, and leaves the
// session STOPPED with finalized statistics.
func (e *Engine) StopAcquisition(ctx context.Context, id string) error {
	s, err := e.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	running := s.runningLocked()
	if running && s.state != schema.SessionError {
		s.state = schema.SessionStopped
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if running {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("stop acquisition context: %w", ctx.Err())
		}
		return nil
	}

	// Never-started (or already finished) session: finalize bookkeeping only.
	s.mu.Lock()
	if s.state != schema.SessionStopped && s.state != schema.SessionError {
		s.state = schema.SessionStopped
		now := e.clock()
		s.stoppedAt = now
		s.stats.EndedAt = now
	}
	state := s.state
	s.mu.Unlock()
	e.publishSession(ctx, s, state, "")
	return nil
}

// PauseAcquisition suspends sampling. Legal only while ACQUIRING; any other
// state is a no-op failure without side effects.
func (e *Engine) PauseAcquisition(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, schema.SessionAcquiring, schema.SessionPaused)
}

// ResumeAcquisition resumes a paused session. Legal only while PAUSED.
func (e *Engine) ResumeAcquisition(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, schema.SessionPaused, schema.SessionAcquiring)
}

func (e *Engine) transition(ctx context.Context, id string, from, to schema.SessionState) (bool, error) {
	s, err := e.lookup(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.state != from || !s.runningLocked() {
		s.mu.Unlock()
		return false, nil
	}
	s.state = to
	s.mu.Unlock()
	e.publishSession(ctx, s, to, "")
	return true, nil
}

// SignalTrigger releases a session waiting on an EXTERNAL trigger.
func (e *Engine) SignalTrigger(id string) error {
	s, err := e.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	external := s.external
	triggerType := s.config.Trigger.Type
	s.mu.Unlock()

	if triggerType != schema.TriggerExternal {
		return errs.New(s.config.EquipmentID, errs.CodeConflict,
			errs.WithMessage("session trigger is not EXTERNAL"))
	}
	if external == nil {
		return errs.New(s.config.EquipmentID, errs.CodeConflict,
			errs.WithMessage("session is not running"))
	}
	select {
	case external <- struct{}{}:
	default:
	}
	return nil
}

// DeleteSession stops the loop if running and discards the session and its buffer.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if err := e.StopAcquisition(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	observability.Log().Info("session deleted", observability.F("acquisition_id", id))
	return nil
}

// GetSession returns a copy-out snapshot of one session.
func (e *Engine) GetSession(id string) (Snapshot, error) {
	s, err := e.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// ListSessions returns snapshots of every registered session, oldest first.
func (e *Engine) ListSessions() []Snapshot {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].AcquisitionID < snapshots[j].AcquisitionID
		}
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// ExportData hands the session's current buffer contents to the exporter
// synchronously, with optional format and path overrides. The snapshot is only
// guaranteed complete once the session has stopped; exporting a live session
// yields a consistent but partial window.
func (e *Engine) ExportData(ctx context.Context, id, format, path string) error {
	s, err := e.lookup(id)
	if err != nil {
		return err
	}
	if e.exporter == nil {
		return errs.New(s.config.EquipmentID, errs.CodeUnavailable,
			errs.WithMessage("no exporter configured"))
	}

	s.mu.Lock()
	stats := s.stats.clone()
	s.mu.Unlock()

	if format == "" {
		if s.config.Export != nil {
			format = s.config.Export.Format
		} else {
			format = "jsonl"
		}
	}
	if path == "" && s.config.Export != nil {
		path = s.config.Export.Path
	}

	return e.exporter.Export(ctx, ExportSnapshot{
		AcquisitionID: s.id,
		EquipmentID:   s.config.EquipmentID,
		Format:        format,
		Path:          path,
		Channels:      append([]string(nil), s.config.Channels...),
		Window:        s.buffer.All(),
		Stats:         stats,
	})
}

// BufferData copies out up to n of the most recent samples from the session's
// buffer. n <= 0 returns everything retained.
func (e *Engine) BufferData(id string, n int) (BufferData, error) {
	s, err := e.lookup(id)
	if err != nil {
		return BufferData{}, err
	}
	return BufferData{
		AcquisitionID: s.id,
		EquipmentID:   s.config.EquipmentID,
		Channels:      append([]string(nil), s.config.Channels...),
		Window:        s.buffer.Latest(n),
	}, nil
}

func (e *Engine) lookup(id string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, errs.New("", errs.CodeNotFound,
			errs.WithMessage("unknown acquisition "+id))
	}
	return s, nil
}

func (e *Engine) publishSession(ctx context.Context, s *session, state schema.SessionState, msg string) {
	if e.transitionCounter != nil {
		e.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			telemetry.AttrEquipment.String(s.config.EquipmentID),
			telemetry.AttrSessionState.String(string(state))))
	}
	if e.lifecycle == nil {
		return
	}
	e.lifecycle.Publish(ctx, bus.Event{
		Type:          bus.EventSessionState,
		AcquisitionID: s.id,
		EquipmentID:   s.config.EquipmentID,
		SessionState:  state,
		Message:       msg,
		At:            e.clock(),
	})
}

// SetClock overrides the engine clock, primarily for testing.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock == nil {
		e.clock = time.Now
		return
	}
	e.clock = clock
}
