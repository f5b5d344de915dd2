package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/itohio/gophcal/pkg/bus"
	"github.com/itohio/gophcal/pkg/calibration"
	"github.com/itohio/gophcal/pkg/config"
)

// app holds the flag values and loaded config of one invocation.
type app struct {
	logLevel   string
	configPath string
	busNumber  int
	address    int
	serialPort string
	baudRate   int
	useMock    bool

	cfg *config.Config
}

func newApp() *app {
	return &app{
		logLevel:   "info",
		configPath: "phmeter.yaml",
		busNumber:  1,
		address:    config.DefaultAddress,
	}
}

func (a *app) setupLogger() error {
	level, err := logrus.ParseLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

// loadConfig reads the config file and applies command line overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	c, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("bus") {
		c.Bus.Number = a.busNumber
	}
	if flags.Changed("address") {
		c.Bus.Address = a.address
	}
	if flags.Changed("port") {
		c.Serial.Port = a.serialPort
	}
	if flags.Changed("baud") {
		c.Serial.BaudRate = a.baudRate
	}
	if err := c.Validate(); err != nil {
		return err
	}

	a.cfg = c
	return nil
}

func (a *app) handleCmdError(err error) {
	switch {
	case errors.Is(err, bus.ErrUnsupported):
		fmt.Fprintln(os.Stderr, "\nError: i2c-dev is only available on Linux")
		fmt.Fprintln(os.Stderr, "  - Use --port to talk to a circuit in UART mode")
		fmt.Fprintln(os.Stderr, "  - Or use --mock to run against the simulated circuit")
	case errors.Is(err, bus.ErrAddressUnavailable):
		n := a.busNumber
		if a.cfg != nil {
			n = a.cfg.Bus.Number
		}
		fmt.Fprintln(os.Stderr, "\nError: no device acknowledged the address")
		fmt.Fprintf(os.Stderr, "  - Check the wiring and run 'i2cdetect -y %d'\n", n)
		fmt.Fprintln(os.Stderr, "  - Pass the right address with --address")
	case errors.Is(err, os.ErrPermission):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Add your user to the 'i2c' (or 'dialout') group")
		fmt.Fprintln(os.Stderr, "  - Or run the command again with 'sudo'")
	default:
		if hint := calibrationHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, "\n"+hint)
		}
	}
}

// calibrationHint returns advice for calibration errors, or "".
func calibrationHint(err error) string {
	switch {
	case errors.Is(err, calibration.ErrInvalidSettleOptions):
		return "Settling needs --tolerance > 0 (0.03 is recommended) and --window > 0."
	case errors.Is(err, calibration.ErrCalibrationInput):
		return "Calibration points must be matched: low=4, mid=7, high=10"
	case errors.Is(err, calibration.ErrSettleTimeout):
		return "The reading did not settle. Rinse the probe, check the buffer and try again,\nor loosen the tolerance with --tolerance."
	default:
		return ""
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := newApp()
	err := newCommand(a).ExecuteContext(ctx)
	stop()
	if err != nil {
		a.handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	return newCommand(newApp())
}

func newCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phmeter",
		Short: "phmeter reads and calibrates Atlas Scientific EZO pH circuits",
		Long: `phmeter reads and calibrates Atlas Scientific EZO pH circuits attached
over I2C (Linux i2c-dev) or in UART mode over a serial port.

Calibrate the mid point (pH 7) first: it clears the low and high points.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setupLogger(); err != nil {
				return err
			}
			return a.loadConfig(cmd)
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&a.logLevel, "log-level", "l", a.logLevel, "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&a.configPath, "config", a.configPath, "config file path")
	globalFlags.IntVarP(&a.busNumber, "bus", "b", a.busNumber, "i2c bus number (/dev/i2c-<bus>)")
	globalFlags.IntVarP(&a.address, "address", "a", a.address, "i2c address of the circuit")
	globalFlags.StringVarP(&a.serialPort, "port", "p", a.serialPort, "serial port of a circuit in UART mode (overrides i2c)")
	globalFlags.IntVar(&a.baudRate, "baud", a.baudRate, "serial baud rate (default 9600)")
	globalFlags.BoolVar(&a.useMock, "mock", a.useMock, "use the simulated circuit instead of hardware")

	cmd.AddCommand(
		NewReadCommand(a),
		NewMonitorCommand(a),
		NewStatusCommand(a),
		NewCalibrateCommand(a),
		NewClearCommand(a),
		NewTemperatureCommand(a),
		NewSleepCommand(a),
		NewQueryCommand(a),
		NewPortsCommand(),
		NewConfigCommand(a),
	)

	return cmd
}
