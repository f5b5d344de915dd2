package sample

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   Sample
		want []string
	}{
		{
			name: "reading",
			in:   Sample{Timestamp: ts, Elapsed: 1500 * time.Millisecond, PH: 7.0021},
			want: []string{"2024-03-01 12:30:05", "1.5", "7.002"},
		},
		{
			name: "failed reading",
			in:   Sample{Timestamp: ts, Elapsed: 3 * time.Second, Err: errors.New("read rejected by device: Error 2")},
			want: []string{"2024-03-01 12:30:05", "3.0", "read rejected by device: Error 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Record(tt.in))
		})
	}
}

func TestCSVWriter(t *testing.T) {
	var buf strings.Builder
	w := NewCSVWriter(&buf)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(Sample{Timestamp: ts, PH: 4.01}))
	require.NoError(t, w.Write(Sample{Timestamp: ts.Add(2 * time.Second), Elapsed: 2 * time.Second, Err: errors.New("bad, reading")}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, Header, lines[0])
	assert.Equal(t, "2024-03-01 12:00:00,0.0,4.010", lines[1])
	assert.Equal(t, `2024-03-01 12:00:02,2.0,"bad, reading"`, lines[2])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCSVWriter_Error(t *testing.T) {
	w := NewCSVWriter(failingWriter{})
	assert.Error(t, w.Write(Sample{PH: 7}))
}
