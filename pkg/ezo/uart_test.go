package ezo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gophcal/pkg/bus"
)

// fakePort answers each CR-terminated command with a scripted reply.
type fakePort struct {
	replies map[string]string
	written []string
	rx      []byte
	readErr error
	closed  int

	// codesOff drops "*OK" and "*ER" lines until "*OK,1" is written.
	codesOff bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	cmd := strings.TrimSuffix(string(b), "\r")
	p.written = append(p.written, cmd)
	if cmd == "*OK,1" {
		p.codesOff = false
	}
	if reply, ok := p.replies[cmd]; ok {
		if p.codesOff {
			reply = strings.NewReplacer("*OK\r", "", "*ER\r", "").Replace(reply)
		}
		p.rx = append(p.rx, reply...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *fakePort) Close() error {
	p.closed++
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) ResetInputBuffer() error {
	p.rx = nil
	return nil
}

func newTestUART(p *fakePort) *UART {
	var waits []time.Duration
	return newUART("fake", p,
		WithSleeper(recordSleeps(&waits)),
		WithTimeoutPolicy(TimeoutPolicy{Long: 20 * time.Millisecond, Short: 10 * time.Millisecond}),
	)
}

func TestUART_Query(t *testing.T) {
	p := &fakePort{replies: map[string]string{
		"R":     "7.002\r*OK\r",
		"Cal,?": "?CAL,2\r*OK\r",
		"bogus": "*ER\r",
		"T,?":   "*WA\r?T,25.0\r*OK\r",
		"C,0":   "*OK\r",
	}}
	u := newTestUART(p)
	ctx := context.Background()

	v, err := ReadPH(ctx, u)
	require.NoError(t, err)
	assert.InDelta(t, 7.002, v, 1e-9)

	resp, err := u.Query(ctx, "Cal,?")
	require.NoError(t, err)
	assert.Equal(t, Success("?CAL,2"), resp)

	resp, err = u.Query(ctx, "bogus")
	require.NoError(t, err)
	assert.Equal(t, Failure(StatusSyntaxError), resp)

	temp, err := Temperature(ctx, u)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, temp, 1e-9)

	resp, err = u.Query(ctx, "C,0")
	require.NoError(t, err)
	assert.Equal(t, Success(""), resp)

	assert.Equal(t, []string{"R", "Cal,?", "bogus", "T,?", "C,0"}, p.written)
}

func TestUART_Init(t *testing.T) {
	tests := []struct {
		name    string
		replies map[string]string
		off     bool
		written []string
	}{
		{
			name:    "codes on",
			replies: map[string]string{"*OK,1": "*OK\r", "C,0": "*OK\r"},
			written: []string{"*OK,1", "C,0"},
		},
		{
			name:    "codes off",
			replies: map[string]string{"*OK,1": "*OK\r", "C,0": "*OK\r"},
			off:     true,
			written: []string{"*OK,1", "C,0"},
		},
		{
			name:    "no code for enable",
			replies: map[string]string{"C,0": "*OK\r"},
			written: []string{"*OK,1", "*OK,1", "C,0"},
		},
		{
			name:    "rejected",
			replies: map[string]string{"*OK,1": "*ER\r", "C,0": "*ER\r"},
			written: []string{"*OK,1", "C,0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePort{replies: tt.replies, codesOff: tt.off}
			u := newTestUART(p)

			require.NoError(t, u.init(context.Background()))
			assert.Equal(t, tt.written, p.written)
			assert.Equal(t, 0, p.closed)
		})
	}
}

func TestUART_InitFailsWithoutCodeForC0(t *testing.T) {
	p := &fakePort{replies: map[string]string{"*OK,1": "*OK\r", "C,0": ""}}
	u := newTestUART(p)

	assert.ErrorIs(t, u.init(context.Background()), ErrProtocol)
}

func TestUART_MasksTopBit(t *testing.T) {
	p := &fakePort{replies: map[string]string{
		"R": string([]byte{'7' | 0x80, '.' | 0x80, '0' | 0x80, '\r', '*', 'O', 'K', '\r'}),
	}}
	u := newTestUART(p)

	resp, err := u.Query(context.Background(), "R")
	require.NoError(t, err)
	assert.Equal(t, Success("7.0"), resp)
}

func TestUART_SleepSkipsRead(t *testing.T) {
	p := &fakePort{replies: map[string]string{}}
	u := newTestUART(p)

	resp, err := u.Query(context.Background(), "Sleep")
	require.NoError(t, err)
	assert.Equal(t, SleepAck(), resp)
}

func TestUART_MissingResponseCode(t *testing.T) {
	p := &fakePort{replies: map[string]string{"R": "7.00\r"}}
	u := newTestUART(p)

	_, err := u.Query(context.Background(), "R")
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, []string{"R", "R"}, p.written, "retried once")
	assert.Equal(t, 0, p.closed)
}

func TestUART_ReadErrorClosesSession(t *testing.T) {
	p := &fakePort{replies: map[string]string{}, readErr: errors.New("device unplugged")}
	u := newTestUART(p)

	_, err := u.Query(context.Background(), "R")
	assert.ErrorIs(t, err, bus.ErrTransport)
	assert.Equal(t, 1, p.closed)

	_, err = u.Query(context.Background(), "R")
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, u.Close())
	assert.Equal(t, 1, p.closed)
}

func TestUART_CancelLogsBelowError(t *testing.T) {
	hook := captureLogs(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := &fakePort{replies: map[string]string{"R": "7.00\r*OK\r"}}
	u := newUART("fake", p, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := u.Query(ctx, "R")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.closed)
	assert.Empty(t, errorEntries(hook))
}
