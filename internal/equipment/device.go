// Package equipment defines the capability surface the acquisition engine
// consumes from instrument adapters.
package equipment

import (
	"context"
	"strings"

	"github.com/benchsync/benchsync/errs"
)

// Info identifies an instrument behind an adapter.
type Info struct {
	ID     string `json:"id"`
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Device is the typed capability interface every instrument adapter implements.
// Measure reads one value from the named channel; adapters map channel names
// onto whatever their native protocol offers.
type Device interface {
	Info() Info
	Status(ctx context.Context) (map[string]any, error)
	Measure(ctx context.Context, channel string) (float64, error)
}

// CommandDevice is the generic-command variant of the capability: adapters
// that only expose a raw command interface implement this, and Adapt bridges
// them into a Device.
type CommandDevice interface {
	Info() Info
	Status(ctx context.Context) (map[string]any, error)
	Execute(ctx context.Context, command string, params map[string]any) (map[string]any, error)
}

// Adapt resolves an adapter into the typed Device capability. Adapters
// implementing Device are returned as-is; CommandDevice adapters are wrapped
// so measurement requests go through their command interface.
func Adapt(adapter any) (Device, error) {
	switch dev := adapter.(type) {
	case Device:
		return dev, nil
	case CommandDevice:
		return &commandMeasurer{dev: dev}, nil
	default:
		return nil, errs.NotSupported("adapter exposes neither measurement nor command capability")
	}
}

// commandMeasurer maps Measure calls onto a generic command interface.
// It first issues get_measurement with a parameter argument, then falls back
// to a channel-specific get_<channel> command.
type commandMeasurer struct {
	dev CommandDevice
}

func (m *commandMeasurer) Info() Info { return m.dev.Info() }

func (m *commandMeasurer) Status(ctx context.Context) (map[string]any, error) {
	return m.dev.Status(ctx)
}

func (m *commandMeasurer) Measure(ctx context.Context, channel string) (float64, error) {
	result, err := m.dev.Execute(ctx, "get_measurement", map[string]any{"parameter": channel})
	if err == nil {
		return extractValue(m.dev.Info().ID, channel, result)
	}
	if !errs.HasCode(err, errs.CodeNotFound) && !errs.HasCode(err, errs.CodeEquipment) {
		return 0, err
	}

	fallback := "get_" + strings.ToLower(strings.TrimSpace(channel))
	result, fallbackErr := m.dev.Execute(ctx, fallback, nil)
	if fallbackErr != nil {
		return 0, errs.New(m.dev.Info().ID, errs.CodeEquipment,
			errs.WithMessage("no measurement path for channel "+channel),
			errs.WithCanonicalCode(errs.CanonicalCapabilityMissing),
			errs.WithCause(fallbackErr))
	}
	return extractValue(m.dev.Info().ID, channel, result)
}

func extractValue(equipment, channel string, result map[string]any) (float64, error) {
	raw, ok := result["value"]
	if !ok {
		return 0, errs.New(equipment, errs.CodeEquipment,
			errs.WithMessage("command result missing value field"),
			errs.WithDeviceField("channel", channel))
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errs.New(equipment, errs.CodeEquipment,
			errs.WithMessage("command result value is not numeric"),
			errs.WithDeviceField("channel", channel))
	}
}
