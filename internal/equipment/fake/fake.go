// Package fake provides a synthetic instrument adapter for testing and development.
package fake

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/equipment"
)

// Waveform selects the synthetic signal generated for one channel.
type Waveform string

const (
	// WaveSine produces a sine wave around the channel offset.
	WaveSine Waveform = "sine"
	// WaveRamp produces a sawtooth ramp between offset and offset+amplitude.
	WaveRamp Waveform = "ramp"
	// WaveNoise produces uniform noise around the channel offset.
	WaveNoise Waveform = "noise"
	// WaveConstant produces the channel offset.
	WaveConstant Waveform = "constant"
)

// ChannelSpec configures one synthetic channel.
type ChannelSpec struct {
	Waveform  Waveform
	Amplitude float64
	Offset    float64
	Period    time.Duration
}

// Options configures the fake device.
type Options struct {
	ID       string
	Vendor   string
	Model    string
	Channels map[string]ChannelSpec
	Seed     int64
}

// Device emits deterministic synthetic measurements per configured channel.
type Device struct {
	info  equipment.Info
	epoch time.Time

	mu       sync.Mutex
	channels map[string]ChannelSpec
	failures map[string]error
	reads    map[string]int
	rng      *rand.Rand
	clock    func() time.Time
}

// NewDevice constructs a fake device with sane defaults.
func NewDevice(opts Options) *Device {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = "fake-instrument"
	}
	channels := make(map[string]ChannelSpec, len(opts.Channels))
	for name, spec := range opts.Channels {
		if spec.Period <= 0 {
			spec.Period = time.Second
		}
		if spec.Waveform == "" {
			spec.Waveform = WaveSine
		}
		channels[name] = spec
	}
	if len(channels) == 0 {
		channels["CH1"] = ChannelSpec{Waveform: WaveSine, Amplitude: 1, Period: time.Second}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}
	return &Device{
		info:     equipment.Info{ID: id, Vendor: opts.Vendor, Model: opts.Model},
		epoch:    time.Now(),
		channels: channels,
		failures: make(map[string]error),
		reads:    make(map[string]int),
		rng:      rand.New(rand.NewSource(seed)),
		clock:    time.Now,
	}
}

// Info implements equipment.Device.
func (d *Device) Info() equipment.Info { return d.info }

// Status implements equipment.Device.
func (d *Device) Status(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return map[string]any{
		"state":    "ready",
		"channels": names,
	}, nil
}

// Measure implements equipment.Device.
func (d *Device) Measure(ctx context.Context, channel string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err, failing := d.failures[channel]; failing {
		return 0, err
	}
	spec, ok := d.channels[channel]
	if !ok {
		return 0, errs.New(d.info.ID, errs.CodeEquipment,
			errs.WithMessage("unknown channel "+channel),
			errs.WithCanonicalCode(errs.CanonicalChannelUnknown))
	}
	d.reads[channel]++

	phase := float64(d.clock().Sub(d.epoch)) / float64(spec.Period)
	switch spec.Waveform {
	case WaveRamp:
		_, frac := math.Modf(phase)
		return spec.Offset + spec.Amplitude*frac, nil
	case WaveNoise:
		return spec.Offset + spec.Amplitude*(d.rng.Float64()*2-1), nil
	case WaveConstant:
		return spec.Offset, nil
	default:
		return spec.Offset + spec.Amplitude*math.Sin(2*math.Pi*phase), nil
	}
}

// FailChannel makes subsequent reads of the channel return err until cleared.
func (d *Device) FailChannel(channel string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, channel)
		return
	}
	d.failures[channel] = err
}

// Reads returns how many successful reads the channel has served.
func (d *Device) Reads(channel string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[channel]
}

// SetClock overrides the device clock, primarily for testing.
func (d *Device) SetClock(clock func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if clock == nil {
		d.clock = time.Now
		return
	}
	d.clock = clock
}
