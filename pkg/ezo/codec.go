// Package ezo implements the command protocol of Atlas Scientific EZO circuits
// (the pH circuit in particular) over an I2C transport or the circuit's UART mode.
package ezo

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status codes carried in the first byte of an I2C response.
const (
	StatusSuccess     byte = 1
	StatusSyntaxError byte = 2
	StatusPending     byte = 254 // still processing, not ready
	StatusNoData      byte = 255 // no data to send
)

// DefaultResponseSize is the size of one I2C response read.
const DefaultResponseSize = 31

var (
	// ErrProtocol is returned when a response breaks the wire format.
	ErrProtocol = errors.New("ezo protocol error")
	// ErrInvalidCommand is returned for commands that cannot be encoded.
	ErrInvalidCommand = errors.New("invalid ezo command")
)

// Kind tags the outcome of a command.
type Kind int

const (
	KindSuccess Kind = iota
	KindError
	KindSleepAck
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindSleepAck:
		return "sleep"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Response is a decoded device response.
type Response struct {
	Kind    Kind
	Payload string // valid for KindSuccess
	Code    byte   // status code for KindError
}

// Success builds a successful response.
func Success(payload string) Response {
	return Response{Kind: KindSuccess, Payload: payload}
}

// Failure builds an error response carrying a device status code.
func Failure(code byte) Response {
	return Response{Kind: KindError, Code: code}
}

// SleepAck is the synthetic response to a SLEEP command.
func SleepAck() Response {
	return Response{Kind: KindSleepAck}
}

// OK reports whether the device accepted the command.
func (r Response) OK() bool {
	return r.Kind == KindSuccess
}

// Float parses the payload as a number. Only the leading numeric field is
// considered, so "7.002" and "7.002,extra" both parse.
func (r Response) Float() (float64, error) {
	if r.Kind != KindSuccess {
		return 0, fmt.Errorf("no numeric payload in %s response", r.Kind)
	}
	field := strings.TrimSpace(r.Payload)
	if i := strings.IndexByte(field, ','); i >= 0 {
		field = field[:i]
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric payload %q: %w", r.Payload, err)
	}
	return v, nil
}

func (r Response) String() string {
	switch r.Kind {
	case KindSuccess:
		return r.Payload
	case KindError:
		return fmt.Sprintf("Error %d", r.Code)
	default:
		return r.Kind.String()
	}
}

// Encode NUL-terminates cmd as single-byte text.
func Encode(cmd string) ([]byte, error) {
	out := make([]byte, 0, len(cmd)+1)
	for _, r := range cmd {
		if r == 0 {
			return nil, fmt.Errorf("%w: %q contains NUL", ErrInvalidCommand, cmd)
		}
		if r > 0xFF {
			return nil, fmt.Errorf("%w: %q is not single-byte text", ErrInvalidCommand, cmd)
		}
		out = append(out, byte(r))
	}
	return append(out, 0), nil
}

// Decode interprets one raw I2C response buffer.
//
// The host sets the top bit of payload bytes on some boards; it is cleared
// before the payload is interpreted. The status byte is left untouched.
func Decode(raw []byte) (Response, error) {
	if len(raw) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", ErrProtocol)
	}

	status := raw[0]
	if status != StatusSuccess {
		return Failure(status), nil
	}

	payload := raw[1:]
	end := bytes.IndexByte(payload, 0)
	if end < 0 {
		return Response{}, fmt.Errorf("%w: payload not NUL-terminated", ErrProtocol)
	}

	text := make([]byte, end)
	for i, b := range payload[:end] {
		text[i] = b &^ 0x80
	}
	return Success(string(text)), nil
}
