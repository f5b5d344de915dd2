package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gophcal/pkg/ezo"
)

// session is an open connection to one circuit.
type session struct {
	ezo.Querier
	mock *ezo.Mock // set in --mock mode
}

// openSession connects to the circuit selected by the config: the simulator,
// a UART port, or the i2c bus.
func (a *app) openSession(ctx context.Context) (*session, error) {
	cfg := a.cfg
	opts := []ezo.Option{
		ezo.WithTimeoutPolicy(ezo.TimeoutPolicy{Long: cfg.Timeouts.Long, Short: cfg.Timeouts.Short}),
		ezo.WithResponseSize(cfg.Timeouts.ResponseSize),
	}
	addr := uint8(cfg.Bus.Address)

	switch {
	case a.useMock:
		m := ezo.NewMock(&cfg.Mock, addr)
		logrus.WithField("address", cfg.Bus.Address).Info("using simulated circuit")
		return &session{Querier: ezo.New(m, opts...), mock: m}, nil

	case cfg.Serial.Port != "":
		u, err := ezo.OpenUART(ctx, cfg.Serial.Port, cfg.Serial.BaudRate, opts...)
		if err != nil {
			return nil, err
		}
		logrus.WithField("port", cfg.Serial.Port).Info("connected")
		return &session{Querier: u}, nil

	default:
		d, err := ezo.Open(cfg.Bus.Number, addr, opts...)
		if err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"bus":     cfg.Bus.Number,
			"address": cfg.Bus.Address,
		}).Info("connected")
		return &session{Querier: d}, nil
	}
}

// withSession opens a session, runs fn and closes the session on every path.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close session")
		}
	}()
	return fn(ctx, s)
}
