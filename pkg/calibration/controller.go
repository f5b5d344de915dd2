package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gophcal/pkg/ezo"
)

const (
	// DefaultTolerance is the pH spread the window must fall under.
	DefaultTolerance = 0.05
	// DefaultDeadline bounds a single settle attempt.
	DefaultDeadline = 120 * time.Second
)

// SettleOptions configures AwaitSettling.
type SettleOptions struct {
	Tolerance  float64
	WindowSize int
	Deadline   time.Duration
}

// DefaultSettleOptions returns the options used when nothing is configured.
func DefaultSettleOptions() SettleOptions {
	return SettleOptions{
		Tolerance:  DefaultTolerance,
		WindowSize: DefaultWindowSize,
		Deadline:   DefaultDeadline,
	}
}

func (o SettleOptions) validate() (SettleOptions, error) {
	if !(o.Tolerance > 0) || math.IsInf(o.Tolerance, 0) {
		return o, fmt.Errorf("%w: tolerance %v must be > 0", ErrInvalidSettleOptions, o.Tolerance)
	}
	if o.WindowSize <= 0 {
		return o, fmt.Errorf("%w: window size %d must be > 0", ErrInvalidSettleOptions, o.WindowSize)
	}
	if o.Deadline <= 0 {
		o.Deadline = DefaultDeadline
	}
	return o, nil
}

// Progress describes a settle attempt after each reading.
type Progress struct {
	Elapsed  time.Duration
	Values   []float64 // newest first
	Spread   float64
	Readings int // readings accepted into the window
	Skipped  int // responses that carried no usable reading
	Settled  bool
}

// Observer receives progress after every reading. It must not block.
type Observer func(Progress)

// Controller runs calibration commands against one sensor session.
// It is not safe for concurrent calibration runs.
type Controller struct {
	q        ezo.Querier
	now      func() time.Time
	observer Observer

	mu    sync.RWMutex
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver registers a settle progress callback.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// NewController creates a controller that issues commands through q.
func NewController(q ezo.Querier, opts ...Option) *Controller {
	c := &Controller{
		q:     q,
		now:   time.Now,
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current workflow state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		logrus.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("calibration state")
	}
}

// Validate checks a point against its fixed reference pH.
func Validate(point Point, ph float64) error {
	if !point.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPoint, point)
	}
	if ph != math.Trunc(ph) || (ph != LowPH && ph != MidPH && ph != HighPH) {
		return fmt.Errorf("%w: got %v", ErrInvalidReferenceValue, ph)
	}
	if int(ph) != point.ReferencePH() {
		return fmt.Errorf("%w: %s with pH %v", ErrMismatchedCalibrationPair, point, ph)
	}
	return nil
}

// Command formats the calibration command for a validated point.
func Command(point Point, ph float64) string {
	return fmt.Sprintf("cal,%s,%d.00", point, int(ph))
}

// Calibrate validates the point and commits it on the device immediately,
// without waiting for readings to settle.
func (c *Controller) Calibrate(ctx context.Context, point Point, ph float64) error {
	if err := c.validate(point, ph); err != nil {
		return err
	}
	return c.commit(ctx, point, ph)
}

func (c *Controller) validate(point Point, ph float64) error {
	c.setState(StateValidating)
	if err := Validate(point, ph); err != nil {
		c.setState(StateRejected)
		logrus.WithError(err).Warn("calibration request rejected")
		return err
	}
	return nil
}

func (c *Controller) commit(ctx context.Context, point Point, ph float64) error {
	c.setState(StateCommitting)

	cmd := Command(point, ph)
	resp, err := c.q.Query(ctx, cmd)
	if err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	if !resp.OK() {
		c.setState(StateRejected)
		return &RejectedError{Command: cmd, Code: resp.Code}
	}

	c.setState(StateDone)
	logrus.WithFields(logrus.Fields{"point": point, "ph": ph}).Info("calibration point committed")
	return nil
}

// CalibratePoint validates the request, waits for the readings to settle
// and then commits the point. A settle timeout leaves the device untouched.
func (c *Controller) CalibratePoint(ctx context.Context, point Point, ph float64, opts SettleOptions) (Progress, error) {
	if err := c.validate(point, ph); err != nil {
		return Progress{}, err
	}

	opts, err := opts.validate()
	if err != nil {
		c.setState(StateRejected)
		return Progress{}, err
	}

	// Prime the circuit; the first reading after a probe swap is discarded.
	c.setState(StateSending)
	if _, err := c.q.Query(ctx, "R"); err != nil {
		c.setState(StateIdle)
		return Progress{}, fmt.Errorf("failed to prime reading: %w", err)
	}

	progress, err := c.AwaitSettling(ctx, opts)
	if err != nil {
		return progress, err
	}

	return progress, c.commit(ctx, point, ph)
}

// AwaitSettling polls readings until the last WindowSize of them are all
// positive and within Tolerance of each other, or Deadline passes.
// Responses that do not carry a number are skipped rather than treated as fatal.
func (c *Controller) AwaitSettling(ctx context.Context, opts SettleOptions) (Progress, error) {
	opts, err := opts.validate()
	if err != nil {
		return Progress{}, err
	}

	c.setState(StateAwaitingSettle)
	log := logrus.WithFields(logrus.Fields{
		"tolerance": opts.Tolerance,
		"window":    opts.WindowSize,
		"deadline":  opts.Deadline,
	})
	log.Info("waiting for pH to settle")

	window := NewWindow(opts.WindowSize)
	start := c.now()
	progress := Progress{Values: window.Values(), Spread: window.Spread()}

	for {
		progress.Elapsed = c.now().Sub(start)
		if progress.Elapsed > opts.Deadline {
			c.setState(StateSettleTimeout)
			log.WithField("elapsed", progress.Elapsed).Warn("pH did not settle")
			return progress, fmt.Errorf("%w: spread %.3f after %s", ErrSettleTimeout, progress.Spread, progress.Elapsed.Round(time.Second))
		}

		resp, err := c.q.Query(ctx, "R")
		switch {
		case errors.Is(err, ezo.ErrProtocol):
			progress.Skipped++
			log.WithError(err).Warn("skipping malformed reading")
		case err != nil:
			c.setState(StateIdle)
			return progress, err
		default:
			v, perr := parseReading(resp)
			if perr != nil {
				progress.Skipped++
				log.WithError(perr).Debug("skipping reading")
				break
			}
			window.Push(v)
			progress.Readings++
		}

		progress.Elapsed = c.now().Sub(start)
		progress.Values = window.Values()
		progress.Spread = window.Spread()
		progress.Settled = window.Converged(opts.Tolerance)

		if c.observer != nil {
			c.observer(progress)
		}

		if progress.Settled {
			log.WithFields(logrus.Fields{
				"elapsed": progress.Elapsed,
				"spread":  progress.Spread,
			}).Info("pH settled")
			return progress, nil
		}
	}
}

// parseReading extracts a pH value from a read response. Like the circuit's
// own tooling it falls back to the first five characters for noisy payloads.
func parseReading(resp ezo.Response) (float64, error) {
	if !resp.OK() {
		return 0, fmt.Errorf("no reading in response %q", resp)
	}

	v, err := resp.Float()
	if err != nil {
		field := strings.TrimSpace(resp.Payload)
		if len(field) > 5 {
			field = field[:5]
		}
		v, err = strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric reading %q", resp.Payload)
		}
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite reading %q", resp.Payload)
	}
	return v, nil
}

// CheckStatus asks the circuit how many points are calibrated.
func (c *Controller) CheckStatus(ctx context.Context) (Status, error) {
	const cmd = "Cal,?"

	resp, err := c.q.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		// A read-only query has nothing to reject; an error here is a bad exchange.
		return 0, fmt.Errorf("%w: %q answered %s", ezo.ErrProtocol, cmd, resp)
	}

	return ParseStatus(resp.Payload)
}

// ParseStatus decodes a "?CAL,<n>" payload from its last character.
func ParseStatus(payload string) (Status, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0, fmt.Errorf("%w: empty calibration status", ezo.ErrProtocol)
	}

	last := payload[len(payload)-1]
	if last < '0' || last > '3' {
		return 0, fmt.Errorf("%w: calibration status %q out of range", ezo.ErrProtocol, payload)
	}
	return Status(last - '0'), nil
}

// Clear removes all calibration points from the circuit.
func (c *Controller) Clear(ctx context.Context) error {
	const cmd = "Cal,clear"

	resp, err := c.q.Query(ctx, cmd)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &RejectedError{Command: cmd, Code: resp.Code}
	}
	c.setState(StateIdle)
	logrus.Info("calibration cleared")
	return nil
}
