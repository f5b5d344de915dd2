package calibration

import (
	"fmt"
	"strings"
)

// Point is one of the three fixed calibration references.
type Point int

const (
	PointLow Point = iota + 1
	PointMid
	PointHigh
)

// Reference pH values bound to each point.
const (
	LowPH  = 4
	MidPH  = 7
	HighPH = 10
)

func (p Point) String() string {
	switch p {
	case PointLow:
		return "low"
	case PointMid:
		return "mid"
	case PointHigh:
		return "high"
	default:
		return fmt.Sprintf("point(%d)", int(p))
	}
}

// Valid reports whether p is Low, Mid or High.
func (p Point) Valid() bool {
	return p >= PointLow && p <= PointHigh
}

// ReferencePH returns the buffer pH the point must be calibrated against.
func (p Point) ReferencePH() int {
	switch p {
	case PointLow:
		return LowPH
	case PointMid:
		return MidPH
	case PointHigh:
		return HighPH
	default:
		return 0
	}
}

// ParsePoint parses "low", "mid" or "high", ignoring case.
func ParsePoint(s string) (Point, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PointLow, nil
	case "mid":
		return PointMid, nil
	case "high":
		return PointHigh, nil
	default:
		return 0, fmt.Errorf("%w: %q (use low, mid or high)", ErrInvalidPoint, s)
	}
}

// Step is one point of a calibration run.
type Step struct {
	Point Point
	PH    float64
}

// Sequence returns the standard three-point order. Mid must come first
// because calibrating the mid point clears the others.
func Sequence() []Step {
	return []Step{
		{Point: PointMid, PH: MidPH},
		{Point: PointLow, PH: LowPH},
		{Point: PointHigh, PH: HighPH},
	}
}

// Status is the calibration level reported by the circuit.
type Status int

const (
	StatusNotCalibrated Status = iota
	StatusMidPointOnly
	StatusTwoPoint
	StatusThreePoint
)

func (s Status) String() string {
	switch s {
	case StatusNotCalibrated:
		return "Not Calibrated"
	case StatusMidPointOnly:
		return "Mid-Point Calibration"
	case StatusTwoPoint:
		return "Two-Point Calibration"
	case StatusThreePoint:
		return "Three-Point Calibration"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is the controller's position in the calibration workflow.
type State string

const (
	StateIdle           State = "Idle"
	StateValidating     State = "Validating"
	StateRejected       State = "Rejected"
	StateSending        State = "Sending"
	StateAwaitingSettle State = "AwaitingSettle"
	StateSettleTimeout  State = "SettleTimeout"
	StateCommitting     State = "Committing"
	StateDone           State = "Done"
)
