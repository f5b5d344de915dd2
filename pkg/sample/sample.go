package sample

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gophcal/pkg/bus"
	"github.com/itohio/gophcal/pkg/ezo"
)

// Sample is one pH reading as handed to loggers and displays.
type Sample struct {
	Timestamp time.Time
	Elapsed   time.Duration // since the source started
	PH        float64
	Err       error // set when no reading could be taken
}

// OK reports whether the sample carries a reading.
func (s Sample) OK() bool {
	return s.Err == nil
}

// Source produces samples until ctx is done.
type Source func(ctx context.Context) <-chan Sample

// Converter is a function type that transforms one Sample channel into another.
type Converter func(in <-chan Sample) <-chan Sample

// NewSource creates a source that reads q every interval. A zero interval
// reads back to back, paced only by the circuit's own read delay.
//
// Failed readings are delivered as samples with Err set. A transport failure
// is delivered and then ends the stream, since the session is gone.
func NewSource(q ezo.Querier, interval time.Duration, bufSize int) Source {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(ctx context.Context) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var tick <-chan time.Time
			if interval > 0 {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				tick = ticker.C
			}

			start := time.Now()
			for {
				ph, err := ezo.ReadPH(ctx, q)
				if ctx.Err() != nil {
					return
				}

				now := time.Now()
				s := Sample{Timestamp: now, Elapsed: now.Sub(start), PH: ph, Err: err}
				if err != nil {
					logrus.WithError(err).Warn("reading failed")
				}

				select {
				case out <- s:
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
					logrus.Warn("sample output channel full, dropping sample")
				}

				if errors.Is(err, bus.ErrTransport) {
					return
				}

				if tick == nil {
					continue
				}
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
		}()

		return out
	}
}
