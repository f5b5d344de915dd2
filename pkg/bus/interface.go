package bus

import (
	"errors"
	"fmt"
)

// MaxAddress is the highest 7-bit slave address.
const MaxAddress = 0x7F

var (
	// ErrTransport is the root of every bus failure. It is fatal to a session.
	ErrTransport = errors.New("bus transport error")
	// ErrAddressUnavailable is reported when no device acknowledges the bound address.
	ErrAddressUnavailable = fmt.Errorf("%w: address unavailable", ErrTransport)
	// ErrInvalidAddress is returned by Bind for addresses outside 0..127.
	ErrInvalidAddress = fmt.Errorf("%w: invalid address", ErrTransport)
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = fmt.Errorf("%w: closed", ErrTransport)
	// ErrUnsupported is returned by Open on platforms without i2c-dev.
	ErrUnsupported = fmt.Errorf("%w: i2c-dev not supported on this platform", ErrTransport)
)

// Transport is a duplex byte channel to one slave on a shared bus.
// Implementations are not safe for concurrent use; the owner serializes access.
type Transport interface {
	// Bind selects the slave that subsequent reads and writes address.
	Bind(addr uint8) error
	// Address returns the currently bound slave address.
	Address() uint8
	Write(p []byte) error
	// Read reads exactly n bytes.
	Read(n int) ([]byte, error)
	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// Ensure I2C implements Transport.
var _ Transport = (*I2C)(nil)

// DevicePath returns the i2c-dev node for a bus number.
func DevicePath(bus int) string {
	return fmt.Sprintf("/dev/i2c-%d", bus)
}

// ValidateAddress reports whether addr fits in 7 bits.
func ValidateAddress(addr int) error {
	if addr < 0 || addr > MaxAddress {
		return fmt.Errorf("%w: %d (must be 0..%d)", ErrInvalidAddress, addr, MaxAddress)
	}
	return nil
}
