package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrCalibrationInput is the root of caller-correctable input errors.
	ErrCalibrationInput = errors.New("invalid calibration input")

	ErrInvalidPoint              = fmt.Errorf("%w: invalid point", ErrCalibrationInput)
	ErrInvalidReferenceValue     = fmt.Errorf("%w: pH must be 4, 7 or 10", ErrCalibrationInput)
	ErrMismatchedCalibrationPair = fmt.Errorf("%w: point and pH do not match (low=4, mid=7, high=10)", ErrCalibrationInput)
	ErrInvalidSettleOptions      = fmt.Errorf("%w: invalid settle options", ErrCalibrationInput)

	// ErrCalibrationRejected matches any RejectedError.
	ErrCalibrationRejected = errors.New("calibration rejected by device")

	// ErrSettleTimeout is returned when readings did not settle before the deadline.
	ErrSettleTimeout = errors.New("pH did not settle before deadline")
)

// RejectedError carries the status code of a device-side rejection.
type RejectedError struct {
	Command string
	Code    byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %q returned code %d", ErrCalibrationRejected, e.Command, e.Code)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrCalibrationRejected
}
