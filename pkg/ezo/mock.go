package ezo

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/itohio/gophcal/pkg/bus"
	"github.com/itohio/gophcal/pkg/config"
)

// Ensure Mock implements bus.Transport.
var _ bus.Transport = (*Mock)(nil)

// Mock simulates an EZO pH circuit sitting on an I2C bus. The probe reading
// follows the solution pH with a first-order lag plus a small deterministic noise.
type Mock struct {
	cfg     *config.MockConfig
	address uint8
	now     func() time.Time

	mu          sync.Mutex
	bound       uint8
	closed      bool
	asleep      bool
	pending     []byte // status + payload, nil when nothing to send
	solution    float64
	reading     float64
	calibration int
	temperature float64
	lastUpdate  time.Time
	startTime   time.Time
	commands    []string
}

// NewMock creates a simulated circuit answering at address.
func NewMock(cfg *config.MockConfig, address uint8) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	return newMock(cfg, address, time.Now)
}

func newMock(cfg *config.MockConfig, address uint8, now func() time.Time) *Mock {
	start := now()
	return &Mock{
		cfg:         cfg,
		address:     address,
		now:         now,
		bound:       address,
		solution:    cfg.PH,
		reading:     cfg.StartPH,
		calibration: cfg.Calibration,
		temperature: 25.0,
		lastUpdate:  start,
		startTime:   start,
	}
}

// SetSolution moves the simulated probe into a solution of the given pH.
func (m *Mock) SetSolution(ph float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.solution = ph
}

// Calibration returns the simulated calibration level (0-3).
func (m *Mock) Calibration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calibration
}

// Commands returns the commands received so far.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.commands))
	copy(result, m.commands)
	return result
}

// Bind selects the slave address. Only the simulated circuit's address answers.
func (m *Mock) Bind(addr uint8) error {
	if err := bus.ValidateAddress(int(addr)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return bus.ErrClosed
	}
	m.bound = addr
	return nil
}

// Address returns the bound slave address.
func (m *Mock) Address() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound
}

// Write delivers one NUL-terminated command to the simulated circuit.
func (m *Mock) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("write"); err != nil {
		return err
	}

	cmd := strings.TrimRight(string(p), "\x00")
	m.commands = append(m.commands, cmd)
	m.asleep = false
	m.advance()

	m.pending = m.handle(cmd)
	return nil
}

// Read returns the pending response padded with NULs to n bytes.
func (m *Mock) Read(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("read"); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if m.asleep || m.pending == nil {
		buf[0] = StatusNoData
		return buf, nil
	}

	copy(buf, m.pending)
	if m.cfg.MSBGlitch && buf[0] == StatusSuccess {
		for i := 1; i < len(buf) && buf[i] != 0; i++ {
			buf[i] |= 0x80
		}
	}
	m.pending = nil
	return buf, nil
}

// Close shuts the simulated bus.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Mock) checkLocked(op string) error {
	if m.closed {
		return bus.ErrClosed
	}
	if m.bound != m.address {
		return fmt.Errorf("%w: %s 0x%02x: no acknowledge", bus.ErrAddressUnavailable, op, m.bound)
	}
	return nil
}

// handle executes a command and returns the raw response (nil for none).
func (m *Mock) handle(cmd string) []byte {
	upper := strings.ToUpper(cmd)
	switch {
	case upper == "R":
		return ok(fmt.Sprintf("%.3f", m.observed()))
	case upper == "CAL,?":
		return ok(fmt.Sprintf("?CAL,%d", m.calibration))
	case upper == "CAL,CLEAR":
		m.calibration = 0
		return ok("")
	case strings.HasPrefix(upper, "CAL,"):
		return m.calibrate(strings.Split(upper, ","))
	case upper == "T,?":
		return ok(fmt.Sprintf("?T,%.2f", m.temperature))
	case strings.HasPrefix(upper, "T,"):
		var t float64
		if _, err := fmt.Sscanf(upper, "T,%g", &t); err != nil {
			return fail(StatusSyntaxError)
		}
		m.temperature = t
		return ok("")
	case upper == "I":
		return ok("?I,pH,2.16")
	case upper == "STATUS":
		return ok("?STATUS,P,5.038")
	case strings.HasPrefix(upper, "SLEEP"):
		m.asleep = true
		return nil
	default:
		return fail(StatusSyntaxError)
	}
}

func (m *Mock) calibrate(fields []string) []byte {
	if len(fields) != 3 {
		return fail(StatusSyntaxError)
	}
	var value float64
	if _, err := fmt.Sscanf(fields[2], "%g", &value); err != nil {
		return fail(StatusSyntaxError)
	}
	switch fields[1] {
	case "MID":
		// A mid point clears the other points.
		m.calibration = 1
	case "LOW", "HIGH":
		if m.calibration == 0 {
			return fail(StatusSyntaxError)
		}
		m.calibration = min(m.calibration+1, 3)
	default:
		return fail(StatusSyntaxError)
	}
	return ok("")
}

// advance moves the probe reading towards the solution pH.
func (m *Mock) advance() {
	now := m.now()
	dt := now.Sub(m.lastUpdate).Seconds()
	m.lastUpdate = now
	if dt < 0 {
		dt = 0
	}

	tau := m.cfg.TimeConstant.Seconds()
	alpha := 1.0
	if tau > 0 {
		alpha = 1 - math.Exp(-dt/tau)
	}
	m.reading += alpha * (m.solution - m.reading)
}

// observed returns the probe reading as the circuit reports it, noise included.
func (m *Mock) observed() float64 {
	elapsed := m.lastUpdate.Sub(m.startTime).Seconds()
	noise := (math.Sin(elapsed*7.3) + math.Cos(elapsed*11.9)) * m.cfg.NoiseLevel * 0.5
	return math.Max(0, math.Min(14, m.reading+noise))
}

func ok(payload string) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, StatusSuccess)
	out = append(out, payload...)
	return append(out, 0)
}

func fail(code byte) []byte {
	return []byte{code, 0}
}
