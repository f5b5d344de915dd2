package ezo

import (
	"strings"
	"time"
)

// Class groups commands by the processing time the circuit needs.
type Class int

const (
	ClassOther Class = iota
	ClassRead
	ClassCalibrate
	ClassSleep
)

func (c Class) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassCalibrate:
		return "calibrate"
	case ClassSleep:
		return "sleep"
	default:
		return "other"
	}
}

// Classify maps a command to its class by case-insensitive prefix.
func Classify(cmd string) Class {
	upper := strings.ToUpper(cmd)
	switch {
	case strings.HasPrefix(upper, "SLEEP"):
		return ClassSleep
	case strings.HasPrefix(upper, "CAL"):
		return ClassCalibrate
	case strings.HasPrefix(upper, "R"):
		return ClassRead
	default:
		return ClassOther
	}
}

// TimeoutPolicy is the fixed delay between writing a command and reading its response.
type TimeoutPolicy struct {
	Long  time.Duration // readings and calibration
	Short time.Duration // everything else
}

// DefaultTimeoutPolicy returns the delays documented for the EZO pH circuit.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Long:  1500 * time.Millisecond,
		Short: 500 * time.Millisecond,
	}
}

// Wait returns the delay for a command class. Sleep never waits because the
// circuit does not answer once asleep.
func (p TimeoutPolicy) Wait(c Class) time.Duration {
	switch c {
	case ClassSleep:
		return 0
	case ClassRead, ClassCalibrate:
		return p.Long
	default:
		return p.Short
	}
}

// WaitFor classifies cmd and returns its delay.
func (p TimeoutPolicy) WaitFor(cmd string) time.Duration {
	return p.Wait(Classify(cmd))
}
