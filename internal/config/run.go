// Package config loads the JSON run configuration of the robot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/supplybot/internal/monitoring"
	"github.com/banshee-data/supplybot/internal/navigation"
	"github.com/banshee-data/supplybot/internal/serialmux"
)

// DefaultConfigPath is the path to the checked-in run defaults file.
const DefaultConfigPath = "config/supplybot.defaults.json"

// Defaults used by the Get* accessors when a field is omitted.
const (
	DefaultResetThresholdDeg = 8.0
	DefaultCoinThresholdDeg  = 5.0
	DefaultDwellSeconds      = 40.0
	DefaultSettleSeconds     = 4.0
	DefaultTickRateHz        = 30.0
	DefaultCommandPace       = "100ms"
	DefaultSerialPort        = "/dev/ttyUSB0"
	DefaultReportPath        = "Run_SupplyBot.csv"
	DefaultDBPath            = "supplybot.db"
	DefaultPlotDir           = "plots"
)

// RunConfig is the root configuration of a run. Every field is optional;
// fields omitted from the JSON fall back to the Get* defaults, so partial
// configs are safe.
type RunConfig struct {
	// Navigation thresholds and timings
	ResetThresholdDeg *float64 `json:"reset_threshold_deg,omitempty"`
	CoinThresholdDeg  *float64 `json:"coin_threshold_deg,omitempty"`
	DwellSeconds      *float64 `json:"dwell_seconds,omitempty"`
	SettleSeconds     *float64 `json:"settle_seconds,omitempty"`
	TickRateHz        *float64 `json:"tick_rate_hz,omitempty"`
	CommandPace       *string  `json:"command_pace,omitempty"` // duration string like "100ms"

	// Actuator link
	SerialPort *string                `json:"serial_port,omitempty"`
	BaudRate   *int                   `json:"baud_rate,omitempty"`
	Serial     *serialmux.PortOptions `json:"serial,omitempty"`

	// Artifacts
	ReportPath *string `json:"report_path,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	PlotDir    *string `json:"plot_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyRunConfig returns a RunConfig with all fields set to nil.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// DefaultRunConfig returns a RunConfig with every field populated with its
// default value.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		ResetThresholdDeg: ptrFloat64(DefaultResetThresholdDeg),
		CoinThresholdDeg:  ptrFloat64(DefaultCoinThresholdDeg),
		DwellSeconds:      ptrFloat64(DefaultDwellSeconds),
		SettleSeconds:     ptrFloat64(DefaultSettleSeconds),
		TickRateHz:        ptrFloat64(DefaultTickRateHz),
		CommandPace:       ptrString(DefaultCommandPace),
		SerialPort:        ptrString(DefaultSerialPort),
		BaudRate:          ptrInt(serialmux.DefaultBaudRate),
		ReportPath:        ptrString(DefaultReportPath),
		DBPath:            ptrString(DefaultDBPath),
		PlotDir:           ptrString(DefaultPlotDir),
	}
}

// LoadRunConfig loads a RunConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the checked-in defaults from DefaultConfigPath.
// It searches for the file in the current directory and its parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	if c.TickRateHz != nil && !(*c.TickRateHz > 0) {
		return fmt.Errorf("tick_rate_hz must be > 0, got %v", *c.TickRateHz)
	}
	if c.ResetThresholdDeg != nil && (*c.ResetThresholdDeg <= 0 || *c.ResetThresholdDeg > 180) {
		return fmt.Errorf("reset_threshold_deg must be in (0, 180], got %v", *c.ResetThresholdDeg)
	}
	if c.CoinThresholdDeg != nil && (*c.CoinThresholdDeg <= 0 || *c.CoinThresholdDeg > 180) {
		return fmt.Errorf("coin_threshold_deg must be in (0, 180], got %v", *c.CoinThresholdDeg)
	}
	if c.DwellSeconds != nil && *c.DwellSeconds < 0 {
		return fmt.Errorf("dwell_seconds must be non-negative, got %v", *c.DwellSeconds)
	}
	if c.SettleSeconds != nil && *c.SettleSeconds < 0 {
		return fmt.Errorf("settle_seconds must be non-negative, got %v", *c.SettleSeconds)
	}

	if c.CommandPace != nil && *c.CommandPace != "" {
		d, err := time.ParseDuration(*c.CommandPace)
		if err != nil {
			return fmt.Errorf("invalid command_pace '%s': %w", *c.CommandPace, err)
		}
		if d < navigation.DefaultPace {
			return fmt.Errorf("command_pace must be at least %s, got %s", navigation.DefaultPace, d)
		}
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return fmt.Errorf("invalid serial options: %w", err)
	}

	if err := c.NavigationConfig().Validate(); err != nil {
		return err
	}

	if !c.NavigationConfig().StopReachable() {
		monitoring.Warnf("coin_threshold_deg %.2f is not above reset_threshold_deg %.2f: the robot will never stop at a waypoint",
			c.GetCoinThresholdDeg(), c.GetResetThresholdDeg())
	}
	return nil
}

// GetResetThresholdDeg returns the reset_threshold_deg value or the default.
func (c *RunConfig) GetResetThresholdDeg() float64 {
	if c.ResetThresholdDeg == nil {
		return DefaultResetThresholdDeg
	}
	return *c.ResetThresholdDeg
}

// GetCoinThresholdDeg returns the coin_threshold_deg value or the default.
func (c *RunConfig) GetCoinThresholdDeg() float64 {
	if c.CoinThresholdDeg == nil {
		return DefaultCoinThresholdDeg
	}
	return *c.CoinThresholdDeg
}

// GetDwellSeconds returns the dwell_seconds value or the default.
func (c *RunConfig) GetDwellSeconds() float64 {
	if c.DwellSeconds == nil {
		return DefaultDwellSeconds
	}
	return *c.DwellSeconds
}

// GetSettleSeconds returns the settle_seconds value or the default.
func (c *RunConfig) GetSettleSeconds() float64 {
	if c.SettleSeconds == nil {
		return DefaultSettleSeconds
	}
	return *c.SettleSeconds
}

// GetTickRateHz returns the tick_rate_hz value or the default.
func (c *RunConfig) GetTickRateHz() float64 {
	if c.TickRateHz == nil {
		return DefaultTickRateHz
	}
	return *c.TickRateHz
}

// GetCommandPace parses and returns the CommandPace as a time.Duration.
func (c *RunConfig) GetCommandPace() time.Duration {
	if c.CommandPace == nil || *c.CommandPace == "" {
		return navigation.DefaultPace
	}
	d, err := time.ParseDuration(*c.CommandPace)
	if err != nil || d < navigation.DefaultPace {
		return navigation.DefaultPace // the firmware drops faster commands
	}
	return d
}

// GetSerialPort returns the serial_port value or the default.
func (c *RunConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *RunConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetReportPath returns the report_path value or the default.
func (c *RunConfig) GetReportPath() string {
	if c.ReportPath == nil || *c.ReportPath == "" {
		return DefaultReportPath
	}
	return *c.ReportPath
}

// GetDBPath returns the db_path value or the default.
func (c *RunConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetPlotDir returns the plot_dir value or the default.
func (c *RunConfig) GetPlotDir() string {
	if c.PlotDir == nil || *c.PlotDir == "" {
		return DefaultPlotDir
	}
	return *c.PlotDir
}

// NavigationConfig converts the thresholds and timings for the state machine.
func (c *RunConfig) NavigationConfig() navigation.Config {
	return navigation.Config{
		ResetThresholdDeg: c.GetResetThresholdDeg(),
		CoinThresholdDeg:  c.GetCoinThresholdDeg(),
		DwellSeconds:      c.GetDwellSeconds(),
		SettleSeconds:     c.GetSettleSeconds(),
		TickRateHz:        c.GetTickRateHz(),
	}
}

// PortOptions returns the serial options with baud_rate applied. The
// serial block's own baud_rate wins when both are set.
func (c *RunConfig) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = c.GetBaudRate()
	}
	return opts
}
