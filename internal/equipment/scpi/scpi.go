// Package scpi implements a minimal SCPI-over-TCP instrument adapter.
package scpi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/equipment"
)

const (
	defaultQueryTimeout       = 2 * time.Second
	defaultMaxConnectInterval = 5 * time.Second
)

// Options configures a SCPI adapter.
type Options struct {
	ID           string
	Address      string
	QueryTimeout time.Duration
	MaxRetryTime time.Duration
}

// Device speaks newline-delimited SCPI queries over a single TCP connection.
// Connection loss surfaces as a measurement error; the engine treats it as a
// degraded sample and the next Measure call re-dials.
type Device struct {
	id           string
	address      string
	queryTimeout time.Duration
	maxRetryTime time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewDevice constructs a SCPI adapter for the given instrument address.
func NewDevice(opts Options) (*Device, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		return nil, errs.New("", errs.CodeInvalid, errs.WithMessage("equipment ID required"))
	}
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errs.New(id, errs.CodeInvalid, errs.WithMessage("instrument address required"))
	}
	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Device{
		id:           id,
		address:      address,
		queryTimeout: queryTimeout,
		maxRetryTime: opts.MaxRetryTime,
	}, nil
}

// Connect dials the instrument, retrying with exponential backoff until the
// context is cancelled or the retry budget is exhausted.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	return d.dialLocked(ctx)
}

func (d *Device) dialLocked(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = defaultMaxConnectInterval

	deadline := time.Time{}
	if d.maxRetryTime > 0 {
		deadline = time.Now().Add(d.maxRetryTime)
	}

	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", d.address)
		if err == nil {
			d.conn = conn
			d.reader = bufio.NewReader(conn)
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return errs.New(d.id, errs.CodeNetwork,
				errs.WithMessage("connect retry budget exhausted"),
				errs.WithCause(err))
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			return errs.New(d.id, errs.CodeNetwork,
				errs.WithMessage("connect retries stopped"),
				errs.WithCause(err))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("scpi connect: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// Close tears down the connection.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.reader = nil
	if err != nil {
		return fmt.Errorf("scpi close: %w", err)
	}
	return nil
}

// Info implements equipment.Device.
func (d *Device) Info() equipment.Info {
	return equipment.Info{ID: d.id}
}

// Status implements equipment.Device via *IDN? and a connectivity probe.
func (d *Device) Status(ctx context.Context) (map[string]any, error) {
	identity, err := d.query(ctx, "*IDN?")
	if err != nil {
		return map[string]any{"state": "unreachable"}, err
	}
	return map[string]any{
		"state":    "ready",
		"identity": identity,
	}, nil
}

// Measure implements equipment.Device via a MEAS:<channel>? query.
func (d *Device) Measure(ctx context.Context, channel string) (float64, error) {
	name := strings.ToUpper(strings.TrimSpace(channel))
	if name == "" {
		return 0, errs.New(d.id, errs.CodeInvalid, errs.WithMessage("channel required"))
	}
	line, err := d.query(ctx, "MEAS:"+name+"?")
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, errs.New(d.id, errs.CodeEquipment,
			errs.WithMessage("instrument returned a non-numeric reading"),
			errs.WithDeviceField("channel", name),
			errs.WithCause(err))
	}
	return value, nil
}

func (d *Device) query(ctx context.Context, command string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		if err := d.dialLocked(ctx); err != nil {
			return "", err
		}
	}

	deadline := time.Now().Add(d.queryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("scpi set deadline: %w", err)
	}

	if _, err := d.conn.Write([]byte(command + "\n")); err != nil {
		d.dropLocked()
		return "", errs.New(d.id, errs.CodeNetwork,
			errs.WithMessage("write failed"),
			errs.WithDeviceField("command", command),
			errs.WithCause(err))
	}
	line, err := d.reader.ReadString('\n')
	if err != nil {
		d.dropLocked()
		return "", errs.New(d.id, errs.CodeNetwork,
			errs.WithMessage("read failed"),
			errs.WithDeviceField("command", command),
			errs.WithCause(err))
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (d *Device) dropLocked() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.conn = nil
	d.reader = nil
}
