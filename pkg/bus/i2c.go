package bus

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// I2C is a Linux i2c-dev transport. It holds separate unbuffered read and write
// handles on the same bus node and rebinds both to a slave address.
type I2C struct {
	bus  int
	path string

	mu     sync.Mutex
	rd     *os.File
	wr     *os.File
	addr   uint8
	closed bool
}

// Open opens the i2c-dev node for the given bus number.
func Open(bus int) (*I2C, error) {
	if !supported {
		return nil, ErrUnsupported
	}

	path := DevicePath(bus)

	rd, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s for reading: %w", ErrTransport, path, err)
	}

	wr, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		rd.Close()
		return nil, fmt.Errorf("%w: failed to open %s for writing: %w", ErrTransport, path, err)
	}

	logrus.WithField("path", path).Debug("opened i2c bus")

	return &I2C{
		bus:  bus,
		path: path,
		rd:   rd,
		wr:   wr,
	}, nil
}

// Bind points both handles at the given slave address.
func (b *I2C) Bind(addr uint8) error {
	if err := ValidateAddress(int(addr)); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if err := setSlave(b.rd.Fd(), addr); err != nil {
		return fmt.Errorf("%w: failed to bind read handle to 0x%02x: %v", ErrTransport, addr, err)
	}
	if err := setSlave(b.wr.Fd(), addr); err != nil {
		return fmt.Errorf("%w: failed to bind write handle to 0x%02x: %v", ErrTransport, addr, err)
	}

	b.addr = addr
	logrus.WithFields(logrus.Fields{"path": b.path, "address": fmt.Sprintf("0x%02x", addr)}).Debug("bound i2c address")

	return nil
}

// Address returns the currently bound slave address.
func (b *I2C) Address() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Write sends p to the bound slave in a single transfer.
func (b *I2C) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if _, err := b.wr.Write(p); err != nil {
		return b.wrap("write", err)
	}
	return nil
}

// Read reads exactly n bytes from the bound slave.
func (b *I2C) Read(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(b.rd, buf); err != nil {
		return nil, b.wrap("read", err)
	}
	return buf, nil
}

// Close releases both handles.
func (b *I2C) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	rerr := b.rd.Close()
	werr := b.wr.Close()

	logrus.WithField("path", b.path).Debug("closed i2c bus")

	if rerr != nil {
		return fmt.Errorf("%w: failed to close read handle: %v", ErrTransport, rerr)
	}
	if werr != nil {
		return fmt.Errorf("%w: failed to close write handle: %v", ErrTransport, werr)
	}
	return nil
}

func (b *I2C) wrap(op string, err error) error {
	if isNack(err) {
		return fmt.Errorf("%w: %s 0x%02x on %s: %w", ErrAddressUnavailable, op, b.addr, b.path, err)
	}
	return fmt.Errorf("%w: %s 0x%02x on %s: %w", ErrTransport, op, b.addr, b.path, err)
}
