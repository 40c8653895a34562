package acquisition

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/benchsync/benchsync/internal/observability"
	"github.com/benchsync/benchsync/internal/ringbuf"
	"github.com/benchsync/benchsync/internal/schema"
	"github.com/benchsync/benchsync/internal/telemetry"
	"github.com/benchsync/benchsync/internal/trigger"
	"github.com/benchsync/benchsync/lib/async"
)

// runLoop is the session's sampling goroutine. It owns all writes to the
// session buffer and always finalizes the session before signalling done.
func (e *Engine) runLoop(ctx context.Context, s *session) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 8192)
			n := runtime.Stack(stack, false)
			s.mu.Lock()
			s.state = schema.SessionError
			s.errMsg = fmt.Sprintf("sampling loop panic: %v", r)
			s.mu.Unlock()
			observability.Log().Error("sampling loop panic",
				observability.F("acquisition_id", s.id),
				observability.F("equipment", s.config.EquipmentID),
				observability.F("panic", fmt.Sprint(r)),
				observability.F("stack", string(stack[:n])))
		}
		e.finalize(s)
	}()

	if err := e.sample(ctx, s); err != nil && ctx.Err() == nil {
		s.mu.Lock()
		s.state = schema.SessionError
		s.errMsg = err.Error()
		s.mu.Unlock()
		observability.Log().Error("sampling loop failed",
			observability.F("acquisition_id", s.id),
			observability.F("equipment", s.config.EquipmentID),
			observability.F("error", err.Error()))
	}
}

func (e *Engine) sample(ctx context.Context, s *session) error {
	cfg := s.config

	var deadline time.Time
	if cfg.Duration > 0 {
		s.mu.Lock()
		deadline = s.stats.StartedAt.Add(cfg.Duration)
		s.mu.Unlock()
	}

	if cfg.Trigger.Type != schema.TriggerImmediate {
		fired, err := e.waitTrigger(ctx, s, deadline)
		if err != nil {
			return err
		}
		if !fired {
			// Duration limit elapsed before the trigger condition held.
			return nil
		}
		if e.triggerCounter != nil {
			e.triggerCounter.Add(ctx, 1, metric.WithAttributes(
				telemetry.AttrEquipment.String(cfg.EquipmentID),
				telemetry.AttrTriggerType.String(string(cfg.Trigger.Type))))
		}
		s.mu.Lock()
		if s.state == schema.SessionWaitingTrigger {
			s.state = schema.SessionAcquiring
		}
		state := s.state
		s.mu.Unlock()
		if state != schema.SessionAcquiring {
			return nil
		}
		e.publishSession(ctx, s, schema.SessionAcquiring, "")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.SampleRate), 1)
	attrs := metric.WithAttributes(telemetry.SampleAttributes(cfg.EquipmentID, s.id)...)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		switch s.currentState() {
		case schema.SessionStopped, schema.SessionError:
			return nil
		case schema.SessionPaused:
			continue
		}

		now := e.clock()
		values := make([]float64, len(cfg.Channels))
		valid := make([]bool, len(cfg.Channels))
		for i, channel := range cfg.Channels {
			reading, err := s.device.Measure(ctx, channel)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Degraded read: keep the tick, store a hole for this channel.
				values[i] = schema.Invalid().Stored()
				if e.invalidCounter != nil {
					e.invalidCounter.Add(ctx, 1, metric.WithAttributes(
						telemetry.AttrEquipment.String(cfg.EquipmentID),
						telemetry.AttrChannel.String(channel)))
				}
				observability.Log().Debug("channel read failed",
					observability.F("acquisition_id", s.id),
					observability.F("channel", channel),
					observability.F("error", err.Error()))
				continue
			}
			values[i] = schema.Ok(reading).Stored()
			valid[i] = true
		}

		if err := s.buffer.Add(values, now); err != nil {
			return err
		}

		s.mu.Lock()
		s.stats.TotalSamples++
		for i, channel := range cfg.Channels {
			if valid[i] {
				s.stats.ChannelSamples[channel]++
			} else {
				s.stats.InvalidSamples[channel]++
			}
		}
		total := s.stats.TotalSamples
		s.mu.Unlock()

		if e.samplesCounter != nil {
			e.samplesCounter.Add(ctx, 1, attrs)
		}

		if cfg.Mode == schema.ModeSingleShot && total >= uint64(cfg.SampleLimit) {
			return nil
		}
		if !deadline.IsZero() && !now.Before(deadline) {
			return nil
		}
	}
}

// waitTrigger blocks until the session's trigger condition fires. It returns
// false without error when the duration limit expires first.
func (e *Engine) waitTrigger(ctx context.Context, s *session, deadline time.Time) (bool, error) {
	cfg := s.config.Trigger

	var expire <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(deadline.Sub(e.clock()))
		defer timer.Stop()
		expire = timer.C
	}

	switch cfg.Type {
	case schema.TriggerTime:
		delay := time.NewTimer(cfg.Delay)
		defer delay.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-expire:
			return false, nil
		case <-delay.C:
			return true, nil
		}
	case schema.TriggerExternal:
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-expire:
			return false, nil
		case <-s.external:
			return true, nil
		}
	}

	if !trigger.NeedsSampling(cfg.Type) {
		return false, nil
	}

	// LEVEL and EDGE triggers poll the monitored channel. The first sampled
	// value primes the edge detector; a level condition may fire on it directly.
	ticker := time.NewTicker(e.triggerPoll)
	defer ticker.Stop()

	var previous float64
	primed := false
	for {
		value, err := s.device.Measure(ctx, cfg.Channel)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			observability.Log().Debug("trigger poll read failed",
				observability.F("acquisition_id", s.id),
				observability.F("channel", cfg.Channel),
				observability.F("error", err.Error()))
		} else {
			switch cfg.Type {
			case schema.TriggerLevel:
				if trigger.Fire(cfg, value, value) {
					return true, nil
				}
			case schema.TriggerEdge:
				if primed && trigger.Fire(cfg, previous, value) {
					return true, nil
				}
				previous = value
				primed = true
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-expire:
			return false, nil
		case <-ticker.C:
		}
	}
}

// finalize settles the session's terminal state, freezes its statistics, and
// hands the buffer snapshot to the exporter when one was requested.
func (e *Engine) finalize(s *session) {
	now := e.clock()
	bufStats := s.buffer.Stats()

	s.mu.Lock()
	if s.state != schema.SessionError {
		s.state = schema.SessionStopped
	}
	s.stoppedAt = now
	s.stats.EndedAt = now
	s.stats.Overruns = bufStats.Overruns
	s.stats.Channels = make(map[string]ringbuf.ChannelStats, len(s.config.Channels))
	for i, channel := range s.config.Channels {
		if i < len(bufStats.Channels) {
			s.stats.Channels[channel] = bufStats.Channels[i]
		}
	}
	if elapsed := now.Sub(s.stats.StartedAt).Seconds(); elapsed > 0 && s.stats.TotalSamples > 0 {
		s.stats.ActualSampleRate = float64(s.stats.TotalSamples) / elapsed
	}
	state := s.state
	errMsg := s.errMsg
	stats := s.stats.clone()
	s.mu.Unlock()

	if e.activeSessions != nil {
		e.activeSessions.Add(context.Background(), -1, metric.WithAttributes(
			telemetry.AttrEquipment.String(s.config.EquipmentID)))
	}
	if e.overrunCounter != nil && bufStats.Overruns > 0 {
		e.overrunCounter.Add(context.Background(), int64(bufStats.Overruns), metric.WithAttributes(
			telemetry.AttrEquipment.String(s.config.EquipmentID)))
	}

	observability.Log().Info("acquisition finished",
		observability.F("acquisition_id", s.id),
		observability.F("equipment", s.config.EquipmentID),
		observability.F("state", string(state)),
		observability.F("total_samples", stats.TotalSamples),
		observability.F("overruns", stats.Overruns))
	e.publishSession(context.Background(), s, state, errMsg)

	if s.config.Export != nil && e.exporter != nil && stats.TotalSamples > 0 {
		e.scheduleExport(s, stats)
	}
}

func (e *Engine) scheduleExport(s *session, stats Stats) {
	snap := ExportSnapshot{
		AcquisitionID: s.id,
		EquipmentID:   s.config.EquipmentID,
		Format:        s.config.Export.Format,
		Path:          s.config.Export.Path,
		Channels:      append([]string(nil), s.config.Channels...),
		Window:        s.buffer.All(),
		Stats:         stats,
	}
	err := e.exports.Submit(context.Background(), async.Job{
		Name:    snap.AcquisitionID,
		Timeout: exportTimeout,
		Run: func(ctx context.Context) error {
			return e.exporter.Export(ctx, snap)
		},
	})
	if err != nil {
		observability.Log().Warn("export job rejected",
			observability.F("acquisition_id", snap.AcquisitionID),
			observability.F("error", err.Error()))
	}
}
