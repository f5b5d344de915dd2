package ezo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gophcal/pkg/bus"
)

// ErrClosed is returned by queries on a closed session.
var ErrClosed = bus.ErrClosed

// maxPendingReads bounds re-reads while the circuit reports StatusPending.
const maxPendingReads = 3

// Querier issues one command and returns its decoded response.
type Querier interface {
	Query(ctx context.Context, cmd string) (Response, error)
	Close() error
}

// Ensure Device and UART implement Querier.
var (
	_ Querier = (*Device)(nil)
	_ Querier = (*UART)(nil)
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Device is a session with one EZO circuit on an I2C transport. It owns the
// transport: a transport failure or a cancelled query closes it.
type Device struct {
	mu sync.Mutex

	tr           bus.Transport
	policy       TimeoutPolicy
	responseSize int
	sleep        Sleeper
	closed       bool
}

// Option configures a Device or UART session.
type Option func(*options)

type options struct {
	policy       TimeoutPolicy
	responseSize int
	sleep        Sleeper
}

// WithTimeoutPolicy overrides the command delays.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithResponseSize overrides the number of bytes read per response.
func WithResponseSize(n int) Option {
	return func(o *options) {
		if n > 1 {
			o.responseSize = n
		}
	}
}

// WithSleeper replaces the delay function (tests use a no-op).
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		policy:       DefaultTimeoutPolicy(),
		responseSize: DefaultResponseSize,
		sleep:        SleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a session over an already bound transport.
func New(tr bus.Transport, opts ...Option) *Device {
	o := buildOptions(opts)
	return &Device{
		tr:           tr,
		policy:       o.policy,
		responseSize: o.responseSize,
		sleep:        o.sleep,
	}
}

// Open opens the i2c-dev bus and binds it to addr.
func Open(busNumber int, addr uint8, opts ...Option) (*Device, error) {
	tr, err := bus.Open(busNumber)
	if err != nil {
		return nil, err
	}
	if err := tr.Bind(addr); err != nil {
		tr.Close()
		return nil, err
	}
	return New(tr, opts...), nil
}

// Bind rebinds the session to another slave address. It waits for any
// in-flight query to finish first. An out of range address is rejected and
// leaves the session bound where it was; only a failed ioctl closes it.
func (d *Device) Bind(addr uint8) error {
	if err := bus.ValidateAddress(int(addr)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := d.tr.Bind(addr); err != nil {
		if !errors.Is(err, bus.ErrInvalidAddress) {
			logrus.WithError(err).WithField("address", fmt.Sprintf("0x%02x", addr)).Error("closing session")
			d.closeLocked()
		}
		return err
	}
	return nil
}

// Address returns the bound slave address.
func (d *Device) Address() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tr.Address()
}

// Query writes cmd, waits the classified delay, reads and decodes the response.
// A malformed response is retried once before ErrProtocol is returned.
func (d *Device) Query(ctx context.Context, cmd string) (Response, error) {
	payload, err := Encode(cmd)
	if err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Response{}, ErrClosed
	}

	log := logrus.WithFields(logrus.Fields{
		"cmd":     cmd,
		"address": fmt.Sprintf("0x%02x", d.tr.Address()),
	})

	for attempt := 0; ; attempt++ {
		resp, err := d.exchange(ctx, cmd, payload)
		switch {
		case err == nil:
			log.WithField("response", resp.String()).Debug("query")
			return resp, nil
		case errors.Is(err, ErrProtocol) && attempt == 0:
			log.WithError(err).Warn("malformed response, retrying")
			continue
		case ctx.Err() != nil:
			log.WithError(err).Debug("query cancelled, closing session")
			d.closeLocked()
		case errors.Is(err, bus.ErrTransport):
			log.WithError(err).Error("closing session")
			d.closeLocked()
		}
		return Response{}, err
	}
}

func (d *Device) exchange(ctx context.Context, cmd string, payload []byte) (Response, error) {
	if err := d.tr.Write(payload); err != nil {
		return Response{}, err
	}

	class := Classify(cmd)
	if class == ClassSleep {
		return SleepAck(), nil
	}

	if err := d.sleep(ctx, d.policy.Wait(class)); err != nil {
		return Response{}, err
	}

	for i := 0; ; i++ {
		raw, err := d.tr.Read(d.responseSize)
		if err != nil {
			return Response{}, err
		}
		resp, err := Decode(raw)
		if err != nil {
			return Response{}, err
		}
		if resp.Kind != KindError || resp.Code != StatusPending || i >= maxPendingReads {
			return resp, nil
		}
		if err := d.sleep(ctx, d.policy.Short); err != nil {
			return Response{}, err
		}
	}
}

// ReadPH issues a single reading.
func (d *Device) ReadPH(ctx context.Context) (float64, error) {
	return ReadPH(ctx, d)
}

// Temperature returns the temperature compensation value in °C.
func (d *Device) Temperature(ctx context.Context) (float64, error) {
	return Temperature(ctx, d)
}

// Sleep puts the circuit into low-power mode. Any following command wakes it.
func (d *Device) Sleep(ctx context.Context) error {
	_, err := d.Query(ctx, "Sleep")
	return err
}

// Close releases the transport. It is safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *Device) closeLocked() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.tr.Close()
}

// ReadPH issues "R" through q and parses the reading.
func ReadPH(ctx context.Context, q Querier) (float64, error) {
	resp, err := q.Query(ctx, "R")
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, fmt.Errorf("read rejected by device: %s", resp)
	}
	return resp.Float()
}

// Temperature issues "T,?" through q. The circuit answers "?T,<celsius>".
func Temperature(ctx context.Context, q Querier) (float64, error) {
	resp, err := q.Query(ctx, "T,?")
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, fmt.Errorf("temperature query rejected by device: %s", resp)
	}
	field := resp.Payload
	if i := strings.LastIndexByte(field, ','); i >= 0 {
		field = field[i+1:]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: temperature payload %q", ErrProtocol, resp.Payload)
	}
	return v, nil
}

// SleepContext waits for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
