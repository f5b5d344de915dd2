package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/itohio/gophcal/pkg/calibration"
	"github.com/itohio/gophcal/pkg/ezo"
	"github.com/itohio/gophcal/pkg/sample"
)

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func NewReadCommand(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Take pH readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				for i := 0; count <= 0 || i < count; i++ {
					ph, err := ezo.ReadPH(ctx, s)
					if err != nil {
						return fmt.Errorf("failed to read pH: %w", err)
					}
					fmt.Printf("pH %s\n", bold("%.3f", ph))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of readings (0 reads until interrupted)")
	return cmd
}

func NewMonitorCommand(a *app) *cobra.Command {
	var (
		interval time.Duration
		average  int
		count    int
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream readings as CSV to stdout",
		Long: `Stream readings as CSV to stdout until interrupted.
Redirect the output to keep a log: phmeter monitor > run.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				samples := sample.NewSource(s, interval, 0)(ctx)
				if average > 1 {
					samples = sample.NewMovingAverage(average, 0)(samples)
				}

				w := sample.NewCSVWriter(os.Stdout)
				n := 0
				for smp := range samples {
					if err := w.Write(smp); err != nil {
						return err
					}
					n++
					if count > 0 && n >= count {
						cancel()
						break
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between readings (0 reads back to back)")
	cmd.Flags().IntVar(&average, "average", 0, "moving average over this many readings (0 or 1 disables)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many rows (0 runs until interrupted)")
	return cmd
}

func NewStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the calibration level and temperature compensation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				status, err := calibration.NewController(s).CheckStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to get calibration status: %w", err)
				}
				temp, err := ezo.Temperature(ctx, s)
				if err != nil {
					return fmt.Errorf("failed to get temperature compensation: %w", err)
				}

				fmt.Printf("Calibration: %s\n", statusString(status))
				fmt.Printf("Temperature compensation: %s\n", bold("%.2f °C", temp))
				return nil
			})
		},
	}
}

func statusString(s calibration.Status) string {
	switch s {
	case calibration.StatusThreePoint:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case calibration.StatusNotCalibrated:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	}
}

func NewClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all calibration points",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if err := calibration.NewController(s).Clear(ctx); err != nil {
					return fmt.Errorf("failed to clear calibration: %w", err)
				}
				fmt.Println("Calibration cleared.")
				return nil
			})
		},
	}
}

func NewTemperatureCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "temperature",
		Aliases: []string{"temp"},
		Short:   "Show the temperature compensation value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				temp, err := ezo.Temperature(ctx, s)
				if err != nil {
					return err
				}
				fmt.Printf("%.2f °C\n", temp)
				return nil
			})
		},
	}
}

func NewSleepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sleep",
		Short: "Put the circuit into low-power mode; any command wakes it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if _, err := s.Query(ctx, "Sleep"); err != nil {
					return err
				}
				fmt.Println("Circuit is asleep.")
				return nil
			})
		},
	}
}

func NewQueryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query <command>",
		Short: "Send a raw command and print the response",
		Example: `  phmeter query I
  phmeter query "T,25.0"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				resp, err := s.Query(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if resp.Kind == ezo.KindError {
					fmt.Println(color.RedString(resp.String()))
					return nil
				}
				fmt.Println(resp.String())
				return nil
			})
		},
	}
}

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports for UART mode",
		RunE: func(_ *cobra.Command, _ []string) error {
			ports, err := ezo.Ports()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found.")
				return nil
			}
			for _, p := range ports {
				fmt.Println(p.Name)
			}
			return nil
		},
	}
}

func NewConfigCommand(a *app) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			if write {
				if err := a.cfg.Save(a.configPath); err != nil {
					return err
				}
				fmt.Printf("Configuration written to %s\n", a.configPath)
				return nil
			}

			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the effective configuration to the config file")
	return cmd
}
