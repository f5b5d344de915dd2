package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/itohio/gophcal/pkg/calibration"
)

func NewCalibrateCommand(a *app) *cobra.Command {
	var (
		point     string
		ph        float64
		tolerance float64
		window    int
		deadline  time.Duration
		noSettle  bool
		all       bool
	)

	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"cal"},
		Short:   "Calibrate one point once the reading has settled",
		Long: `Calibrate one point once the reading has settled.

Place the probe in the buffer solution first. The reading is polled until the
last --window readings are within --tolerance of each other, then the point is
committed. Points must be matched: low=4, mid=7, high=10. Calibrate mid first.

With --mock, --all runs the whole mid, low, high sequence on the simulator.`,
		Example: `  phmeter calibrate --point mid --ph 7
  phmeter calibrate --point low --ph 4 --tolerance 0.03
  phmeter --mock calibrate --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := calibration.SettleOptions{
				Tolerance:  a.cfg.Settling.Tolerance,
				WindowSize: a.cfg.Settling.WindowSize,
				Deadline:   a.cfg.Settling.Deadline,
			}
			if cmd.Flags().Changed("tolerance") {
				opts.Tolerance = tolerance
			}
			if cmd.Flags().Changed("window") {
				opts.WindowSize = window
			}
			if cmd.Flags().Changed("deadline") {
				opts.Deadline = deadline
			}

			var steps []calibration.Step
			switch {
			case all && !a.useMock:
				return errors.New("--all needs --mock: a real probe has to be moved between buffers by hand")
			case all:
				steps = calibration.Sequence()
			default:
				p, err := calibration.ParsePoint(point)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("ph") {
					ph = float64(p.ReferencePH())
				}
				steps = []calibration.Step{{Point: p, PH: ph}}
			}

			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				c := calibration.NewController(s, calibration.WithObserver(newProgressReporter(a.cfg.Settling.ReportInterval)))

				for _, step := range steps {
					if s.mock != nil {
						s.mock.SetSolution(step.PH)
					}
					if err := calibrateStep(ctx, c, step, opts, noSettle); err != nil {
						return err
					}
				}

				status, err := c.CheckStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to get calibration status: %w", err)
				}
				fmt.Printf("Calibration: %s\n", statusString(status))

				if !all {
					printNextStep(steps[0].Point)
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&point, "point", "mid", "calibration point (low, mid, high)")
	flags.Float64Var(&ph, "ph", 0, "buffer pH; must match the point (default: the point's reference)")
	flags.Float64Var(&tolerance, "tolerance", calibration.DefaultTolerance, "maximum spread of settled readings in pH (0.03 is recommended)")
	flags.IntVar(&window, "window", calibration.DefaultWindowSize, "number of readings that must agree")
	flags.DurationVar(&deadline, "deadline", calibration.DefaultDeadline, "give up settling after this long")
	flags.BoolVar(&noSettle, "no-settle", false, "commit immediately without waiting for the reading to settle")
	flags.BoolVar(&all, "all", false, "run the full mid, low, high sequence (simulator only)")
	return cmd
}

func calibrateStep(ctx context.Context, c *calibration.Controller, step calibration.Step, opts calibration.SettleOptions, noSettle bool) error {
	if noSettle {
		fmt.Printf("Calibrating pH %s...\n", bold("%g", step.PH))
		if err := c.Calibrate(ctx, step.Point, step.PH); err != nil {
			return err
		}
		fmt.Printf("Calibrated pH %g.\n", step.PH)
		return nil
	}

	fmt.Printf("Waiting for the pH %g reading to settle. This can take 1 - 2 minutes.\n", step.PH)
	progress, err := c.CalibratePoint(ctx, step.Point, step.PH, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Calibrated pH %g after %s (spread %.3f).\n", step.PH, progress.Elapsed.Round(time.Second), progress.Spread)
	return nil
}

// newProgressReporter prints settle progress at most once per interval.
func newProgressReporter(interval time.Duration) calibration.Observer {
	var last time.Duration
	return func(p calibration.Progress) {
		if p.Settled {
			fmt.Println(color.GreenString("pH settled at %.3f", p.Values[0]))
			return
		}
		if p.Elapsed-last < interval {
			return
		}
		last = p.Elapsed
		logrus.WithFields(logrus.Fields{
			"readings": p.Readings,
			"skipped":  p.Skipped,
		}).Debug("settle progress")
		fmt.Printf("%d seconds have elapsed waiting for pH to settle (spread %.3f).\n", int(p.Elapsed.Seconds()), p.Spread)
	}
}

func printNextStep(done calibration.Point) {
	seq := calibration.Sequence()
	for i, step := range seq[:len(seq)-1] {
		if step.Point == done {
			next := seq[i+1]
			fmt.Printf("Next: rinse the probe, place it in pH %g buffer and run 'phmeter calibrate --point %s'.\n", next.PH, next.Point)
			return
		}
	}
}
