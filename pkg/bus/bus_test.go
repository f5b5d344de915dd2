package bus

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicePath(t *testing.T) {
	assert.Equal(t, "/dev/i2c-0", DevicePath(0))
	assert.Equal(t, "/dev/i2c-1", DevicePath(1))
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    int
		wantErr bool
	}{
		{name: "zero", addr: 0},
		{name: "ezo ph default", addr: 0x63},
		{name: "max", addr: 127},
		{name: "too large", addr: 128, wantErr: true},
		{name: "negative", addr: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				assert.ErrorIs(t, err, ErrTransport)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen_MissingBus(t *testing.T) {
	b, err := Open(9999)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrTransport)
}

// pipeBus wires the read and write handles of an I2C transport to a pipe so
// the raw transfer path can be exercised without hardware.
func pipeBus(t *testing.T) *I2C {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	return &I2C{bus: -1, path: "pipe", rd: r, wr: w, addr: 0x63}
}

func TestI2C_WriteRead(t *testing.T) {
	b := pipeBus(t)
	defer b.Close()

	require.NoError(t, b.Write([]byte{1, 'a', 'b', 0}))

	got, err := b.Read(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 'a', 'b', 0}, got)
	assert.Equal(t, uint8(0x63), b.Address())
}

func TestI2C_BindRejectsInvalidAddress(t *testing.T) {
	b := pipeBus(t)
	defer b.Close()

	err := b.Bind(200)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, uint8(0x63), b.Address(), "address must not change on failure")
}

func TestI2C_BindFailsOnNonBusHandle(t *testing.T) {
	b := pipeBus(t)
	defer b.Close()

	err := b.Bind(0x64)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, uint8(0x63), b.Address())
}

func TestI2C_CloseIsIdempotent(t *testing.T) {
	b := pipeBus(t)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Write([]byte{0}), ErrClosed)

	_, err := b.Read(1)
	assert.True(t, errors.Is(err, ErrClosed))

	assert.ErrorIs(t, b.Bind(0x63), ErrClosed)
}
