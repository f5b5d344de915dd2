package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Serial   SerialConfig   `yaml:"serial"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Settling SettlingConfig `yaml:"settling"`
	Mock     MockConfig     `yaml:"mock"`
}

// BusConfig selects the i2c-dev bus and the sensor's slave address.
type BusConfig struct {
	Number  int `yaml:"number"`
	Address int `yaml:"address"`
}

// SerialConfig contains serial port configuration for sensors running in UART mode.
// An empty Port selects the I2C bus.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// TimeoutConfig contains the fixed processing delays applied between writing a
// command and reading its response.
type TimeoutConfig struct {
	Long         time.Duration `yaml:"long"`  // R and CAL commands
	Short        time.Duration `yaml:"short"` // everything else
	ResponseSize int           `yaml:"response_size"`
}

// SettlingConfig contains parameters for the settling detector.
type SettlingConfig struct {
	Tolerance      float64       `yaml:"tolerance"`
	WindowSize     int           `yaml:"window_size"`
	Deadline       time.Duration `yaml:"deadline"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// MockConfig contains simulated sensor configuration.
type MockConfig struct {
	PH           float64       `yaml:"ph"`            // pH of the simulated solution
	StartPH      float64       `yaml:"start_ph"`      // Probe reading when the session starts
	NoiseLevel   float64       `yaml:"noise_level"`   // Peak noise (pH)
	TimeConstant time.Duration `yaml:"time_constant"` // Probe response time constant
	Calibration  int           `yaml:"calibration"`   // Initial calibration level (0-3)
	MSBGlitch    bool          `yaml:"msb_glitch"`    // Set the top bit on payload bytes
}

// DefaultAddress is the factory I2C address of the EZO pH circuit (decimal 99).
const DefaultAddress = 0x63

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Number:  1, // Older Raspberry Pi boards use bus 0
			Address: DefaultAddress,
		},
		Serial: SerialConfig{
			Port:     "",
			BaudRate: 9600,
		},
		Timeouts: TimeoutConfig{
			Long:         1500 * time.Millisecond,
			Short:        500 * time.Millisecond,
			ResponseSize: 31,
		},
		Settling: SettlingConfig{
			Tolerance:      0.05,
			WindowSize:     10,
			Deadline:       120 * time.Second,
			ReportInterval: 5 * time.Second,
		},
		Mock: MockConfig{
			PH:           7.0,
			StartPH:      5.5,
			NoiseLevel:   0.01,
			TimeConstant: 3 * time.Second,
			Calibration:  0,
			MSBGlitch:    true,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Bus.Number < 0 {
		return fmt.Errorf("invalid bus number %d", c.Bus.Number)
	}
	if c.Bus.Address < 0 || c.Bus.Address > 127 {
		return fmt.Errorf("invalid I2C address %d: must be 0..127", c.Bus.Address)
	}
	if c.Settling.Tolerance < 0 {
		return fmt.Errorf("invalid settling tolerance %v: must be positive", c.Settling.Tolerance)
	}
	if c.Settling.WindowSize < 0 {
		return fmt.Errorf("invalid settling window size %d: must be positive", c.Settling.WindowSize)
	}
	if c.Mock.Calibration < 0 || c.Mock.Calibration > 3 {
		return fmt.Errorf("invalid mock calibration level %d: must be 0..3", c.Mock.Calibration)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Bus.Address == 0 {
		c.Bus.Address = def.Bus.Address
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Timeouts.Long == 0 {
		c.Timeouts.Long = def.Timeouts.Long
	}
	if c.Timeouts.Short == 0 {
		c.Timeouts.Short = def.Timeouts.Short
	}
	if c.Timeouts.ResponseSize == 0 {
		c.Timeouts.ResponseSize = def.Timeouts.ResponseSize
	}

	if c.Settling.Tolerance == 0 {
		c.Settling.Tolerance = def.Settling.Tolerance
	}
	if c.Settling.WindowSize == 0 {
		c.Settling.WindowSize = def.Settling.WindowSize
	}
	if c.Settling.Deadline == 0 {
		c.Settling.Deadline = def.Settling.Deadline
	}
	if c.Settling.ReportInterval == 0 {
		c.Settling.ReportInterval = def.Settling.ReportInterval
	}

	if c.Mock.PH == 0 {
		c.Mock.PH = def.Mock.PH
	}
	if c.Mock.StartPH == 0 {
		c.Mock.StartPH = def.Mock.StartPH
	}
	if c.Mock.TimeConstant == 0 {
		c.Mock.TimeConstant = def.Mock.TimeConstant
	}
}
