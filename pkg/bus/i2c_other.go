//go:build !linux

package bus

const supported = false

func setSlave(uintptr, uint8) error { return ErrUnsupported }

func isNack(error) bool { return false }
