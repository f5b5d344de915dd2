//go:build linux

package bus

import (
	"errors"

	"golang.org/x/sys/unix"
)

// i2cSlave is I2C_SLAVE from linux/i2c-dev.h.
const i2cSlave = 0x0703

const supported = true

func setSlave(fd uintptr, addr uint8) error {
	return unix.IoctlSetInt(int(fd), i2cSlave, int(addr))
}

// isNack reports errors the i2c-dev driver returns when nothing acknowledges.
func isNack(err error) bool {
	return errors.Is(err, unix.ENXIO) || errors.Is(err, unix.EREMOTEIO) || errors.Is(err, unix.EIO)
}
