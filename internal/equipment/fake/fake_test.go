package fake

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/errs"
)

func TestMeasureSineWaveform(t *testing.T) {
	dev := NewDevice(Options{
		ID: "scope-01",
		Channels: map[string]ChannelSpec{
			"CH1": {Waveform: WaveSine, Amplitude: 2, Offset: 1, Period: time.Second},
		},
	})
	base := time.Now()
	dev.SetClock(func() time.Time { return base })
	dev.epoch = base

	value, err := dev.Measure(context.Background(), "CH1")
	require.NoError(t, err)
	require.InDelta(t, 1.0, value, 1e-9, "sine at phase zero equals the offset")

	dev.SetClock(func() time.Time { return base.Add(250 * time.Millisecond) })
	value, err = dev.Measure(context.Background(), "CH1")
	require.NoError(t, err)
	require.InDelta(t, 3.0, value, 1e-9, "sine at quarter period peaks at offset+amplitude")
}

func TestMeasureRampAndConstant(t *testing.T) {
	dev := NewDevice(Options{
		ID: "psu-02",
		Channels: map[string]ChannelSpec{
			"RAMP":  {Waveform: WaveRamp, Amplitude: 10, Offset: 5, Period: time.Second},
			"CONST": {Waveform: WaveConstant, Offset: 12.5},
		},
	})
	base := time.Now()
	dev.epoch = base
	dev.SetClock(func() time.Time { return base.Add(500 * time.Millisecond) })

	value, err := dev.Measure(context.Background(), "RAMP")
	require.NoError(t, err)
	require.InDelta(t, 10.0, value, 1e-9)

	value, err = dev.Measure(context.Background(), "CONST")
	require.NoError(t, err)
	require.Equal(t, 12.5, value)
}

func TestMeasureNoiseStaysInRange(t *testing.T) {
	dev := NewDevice(Options{
		ID: "dmm-07",
		Channels: map[string]ChannelSpec{
			"N": {Waveform: WaveNoise, Amplitude: 0.5, Offset: 3},
		},
		Seed: 42,
	})
	for i := 0; i < 100; i++ {
		value, err := dev.Measure(context.Background(), "N")
		require.NoError(t, err)
		require.LessOrEqual(t, math.Abs(value-3), 0.5)
	}
	require.Equal(t, 100, dev.Reads("N"))
}

func TestMeasureUnknownChannel(t *testing.T) {
	dev := NewDevice(Options{ID: "scope-01"})
	_, err := dev.Measure(context.Background(), "CH9")
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeEquipment))
}

func TestFailChannelInjectsAndClears(t *testing.T) {
	dev := NewDevice(Options{ID: "scope-01"})
	boom := errors.New("relay stuck")
	dev.FailChannel("CH1", boom)

	_, err := dev.Measure(context.Background(), "CH1")
	require.ErrorIs(t, err, boom)

	dev.FailChannel("CH1", nil)
	_, err = dev.Measure(context.Background(), "CH1")
	require.NoError(t, err)
}

func TestStatusListsChannels(t *testing.T) {
	dev := NewDevice(Options{ID: "scope-01", Channels: map[string]ChannelSpec{
		"CH1": {}, "CH2": {},
	}})
	status, err := dev.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ready", status["state"])
	require.ElementsMatch(t, []string{"CH1", "CH2"}, status["channels"])
}

func TestMeasureHonoursContext(t *testing.T) {
	dev := NewDevice(Options{ID: "scope-01"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dev.Measure(ctx, "CH1")
	require.ErrorIs(t, err, context.Canceled)
}
