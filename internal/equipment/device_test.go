package equipment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/errs"
)

type typedDevice struct{}

func (typedDevice) Info() Info                                     { return Info{ID: "dmm-07"} }
func (typedDevice) Status(context.Context) (map[string]any, error) { return map[string]any{}, nil }
func (typedDevice) Measure(context.Context, string) (float64, error) {
	return 1.25, nil
}

type commandOnlyDevice struct {
	commands map[string]map[string]any
	calls    []string
}

func (d *commandOnlyDevice) Info() Info { return Info{ID: "psu-02"} }

func (d *commandOnlyDevice) Status(context.Context) (map[string]any, error) {
	return map[string]any{"state": "on"}, nil
}

func (d *commandOnlyDevice) Execute(_ context.Context, command string, _ map[string]any) (map[string]any, error) {
	d.calls = append(d.calls, command)
	result, ok := d.commands[command]
	if !ok {
		return nil, errs.New("psu-02", errs.CodeNotFound, errs.WithMessage("unknown command "+command))
	}
	return result, nil
}

func TestAdaptPassesThroughTypedDevice(t *testing.T) {
	dev, err := Adapt(typedDevice{})
	require.NoError(t, err)
	value, err := dev.Measure(context.Background(), "VOLT")
	require.NoError(t, err)
	require.Equal(t, 1.25, value)
}

func TestAdaptRejectsUnknownAdapters(t *testing.T) {
	_, err := Adapt(struct{}{})
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeEquipment))
}

func TestCommandBridgePrefersGetMeasurement(t *testing.T) {
	raw := &commandOnlyDevice{commands: map[string]map[string]any{
		"get_measurement": {"value": 3.3},
	}}
	dev, err := Adapt(raw)
	require.NoError(t, err)

	value, err := dev.Measure(context.Background(), "VOLT")
	require.NoError(t, err)
	require.Equal(t, 3.3, value)
	require.Equal(t, []string{"get_measurement"}, raw.calls)
}

func TestCommandBridgeFallsBackToChannelCommand(t *testing.T) {
	raw := &commandOnlyDevice{commands: map[string]map[string]any{
		"get_volt": {"value": 11},
	}}
	dev, err := Adapt(raw)
	require.NoError(t, err)

	value, err := dev.Measure(context.Background(), "VOLT")
	require.NoError(t, err)
	require.Equal(t, 11.0, value)
	require.Equal(t, []string{"get_measurement", "get_volt"}, raw.calls)
}

func TestCommandBridgeReportsCapabilityMissing(t *testing.T) {
	raw := &commandOnlyDevice{commands: map[string]map[string]any{}}
	dev, err := Adapt(raw)
	require.NoError(t, err)

	_, err = dev.Measure(context.Background(), "TEMP")
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeEquipment))
}

func TestCommandBridgeRejectsNonNumericValue(t *testing.T) {
	raw := &commandOnlyDevice{commands: map[string]map[string]any{
		"get_measurement": {"value": "n/a"},
	}}
	dev, err := Adapt(raw)
	require.NoError(t, err)

	_, err = dev.Measure(context.Background(), "VOLT")
	require.Error(t, err)
}
