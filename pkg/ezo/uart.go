package ezo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/itohio/gophcal/pkg/bus"
)

// DefaultBaudRate is the factory UART speed of EZO circuits.
const DefaultBaudRate = 9600

// uartPort is the subset of serial.Port used by UART.
type uartPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// UART is a session with an EZO circuit switched to UART mode. Commands are
// CR-terminated text; the circuit answers with an optional data line followed
// by a "*OK" or "*ER" response code line.
type UART struct {
	mu sync.Mutex

	name   string
	port   uartPort
	policy TimeoutPolicy
	sleep  Sleeper
	closed bool
	buf    []byte
}

// OpenUART opens a serial port and prepares the circuit for polled queries.
func OpenUART(ctx context.Context, name string, baudRate int, opts ...Option) (*UART, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open serial port %s: %w", bus.ErrTransport, name, err)
	}

	u := newUART(name, port, opts...)
	if err := u.init(ctx); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

func newUART(name string, port uartPort, opts ...Option) *UART {
	o := buildOptions(opts)
	return &UART{
		name:   name,
		port:   port,
		policy: o.policy,
		sleep:  o.sleep,
	}
}

// init enables response codes, then turns off continuous readings. Codes go
// first: with codes off the circuit acknowledges nothing, so "C,0" would never
// see a code line.
func (u *UART) init(ctx context.Context) error {
	for _, cmd := range []string{"*OK,1", "C,0"} {
		log := logrus.WithFields(logrus.Fields{"port": u.name, "cmd": cmd})
		resp, err := u.Query(ctx, cmd)
		switch {
		case err == nil && !resp.OK():
			log.Warn("uart setup command rejected")
		case errors.Is(err, ErrProtocol) && cmd == "*OK,1":
			log.WithError(err).Debug("no response code, continuing")
		case err != nil:
			return err
		}
	}
	return nil
}

// Query sends cmd and collects its response.
func (u *UART) Query(ctx context.Context, cmd string) (Response, error) {
	if _, err := Encode(cmd); err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return Response{}, ErrClosed
	}

	log := logrus.WithFields(logrus.Fields{"port": u.name, "cmd": cmd})

	for attempt := 0; ; attempt++ {
		resp, err := u.exchange(ctx, cmd)
		switch {
		case err == nil:
			log.WithField("response", resp.String()).Debug("query")
			return resp, nil
		case errors.Is(err, ErrProtocol) && attempt == 0:
			log.WithError(err).Warn("malformed response, retrying")
			continue
		case ctx.Err() != nil:
			log.WithError(err).Debug("query cancelled, closing uart session")
			u.closeLocked()
		case errors.Is(err, bus.ErrTransport):
			log.WithError(err).Error("closing uart session")
			u.closeLocked()
		}
		return Response{}, err
	}
}

func (u *UART) exchange(ctx context.Context, cmd string) (Response, error) {
	if err := u.port.ResetInputBuffer(); err != nil {
		return Response{}, fmt.Errorf("%w: %s: %w", bus.ErrTransport, u.name, err)
	}
	u.buf = u.buf[:0]

	if _, err := u.port.Write([]byte(cmd + "\r")); err != nil {
		return Response{}, fmt.Errorf("%w: write %s: %w", bus.ErrTransport, u.name, err)
	}

	class := Classify(cmd)
	if class == ClassSleep {
		return SleepAck(), nil
	}

	if err := u.sleep(ctx, u.policy.Wait(class)); err != nil {
		return Response{}, err
	}

	var data string
	deadline := time.Now().Add(u.policy.Long + u.policy.Short)
	for {
		line, err := u.readLine(ctx, deadline)
		if err != nil {
			return Response{}, err
		}
		switch {
		case line == "*OK":
			return Success(data), nil
		case line == "*ER":
			return Failure(StatusSyntaxError), nil
		case strings.HasPrefix(line, "*"):
			// *WA, *RS, *RE, *OV, *UV and friends are unsolicited notices.
			continue
		case line != "":
			data = line
		}
	}
}

// readLine returns the next CR-terminated line with the top bit of each byte cleared.
func (u *UART) readLine(ctx context.Context, deadline time.Time) (string, error) {
	chunk := make([]byte, 32)
	for {
		if i := bytes.IndexByte(u.buf, '\r'); i >= 0 {
			line := make([]byte, i)
			for j, b := range u.buf[:i] {
				line[j] = b &^ 0x80
			}
			u.buf = u.buf[i+1:]
			return strings.TrimSpace(string(line)), nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("%w: no response code from %s", ErrProtocol, u.name)
		}
		if err := u.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("%w: %s: %w", bus.ErrTransport, u.name, err)
		}

		n, err := u.port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %w", bus.ErrTransport, u.name, err)
		}
		u.buf = append(u.buf, chunk[:n]...)
	}
}

// Close releases the serial port. It is safe to call more than once.
func (u *UART) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closeLocked()
}

func (u *UART) closeLocked() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.port.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", bus.ErrTransport, u.name, err)
	}
	return nil
}
