package navigation

import (
	"fmt"
	"math"
)

// Upper bounds keep the tick counts well inside int range.
const (
	MaxTickRateHz   = 1000
	MaxPhaseSeconds = 24 * 60 * 60
)

// Config holds the thresholds and timings of the navigation state machine.
// Durations are expressed in seconds and converted to ticks with TickRateHz.
type Config struct {
	ResetThresholdDeg float64 `json:"reset_threshold_deg"`
	CoinThresholdDeg  float64 `json:"coin_threshold_deg"`
	DwellSeconds      float64 `json:"dwell_seconds"`
	SettleSeconds     float64 `json:"settle_seconds"`
	TickRateHz        float64 `json:"tick_rate_hz"`
}

// DefaultConfig returns the thresholds and timings used on the arena.
func DefaultConfig() Config {
	return Config{
		ResetThresholdDeg: 8,
		CoinThresholdDeg:  5,
		DwellSeconds:      40,
		SettleSeconds:     4,
		TickRateHz:        30,
	}
}

// Validate checks that the values describe a runnable state machine.
func (c Config) Validate() error {
	if !(c.TickRateHz > 0 && c.TickRateHz <= MaxTickRateHz) {
		return fmt.Errorf("tick_rate_hz must be in (0, %d], got %v", MaxTickRateHz, c.TickRateHz)
	}
	if c.ResetThresholdDeg <= 0 || c.ResetThresholdDeg > 180 {
		return fmt.Errorf("reset_threshold_deg must be in (0, 180], got %v", c.ResetThresholdDeg)
	}
	if c.CoinThresholdDeg <= 0 || c.CoinThresholdDeg > 180 {
		return fmt.Errorf("coin_threshold_deg must be in (0, 180], got %v", c.CoinThresholdDeg)
	}
	if !(c.DwellSeconds >= 0 && c.DwellSeconds <= MaxPhaseSeconds) {
		return fmt.Errorf("dwell_seconds must be in [0, %d], got %v", MaxPhaseSeconds, c.DwellSeconds)
	}
	if !(c.SettleSeconds >= 0 && c.SettleSeconds <= MaxPhaseSeconds) {
		return fmt.Errorf("settle_seconds must be in [0, %d], got %v", MaxPhaseSeconds, c.SettleSeconds)
	}
	return nil
}

// StopReachable reports whether a bearing can ever reach the coin branch.
// The reset test runs first, so a coin threshold at or below the reset
// threshold leaves STOP unreachable.
func (c Config) StopReachable() bool {
	return c.CoinThresholdDeg > c.ResetThresholdDeg
}

// DwellTicks is the number of ticks spent stopped at a waypoint.
func (c Config) DwellTicks() int {
	return ticks(c.TickRateHz, c.DwellSeconds)
}

// SettleTicks is the number of ticks held after the final arrival.
func (c Config) SettleTicks() int {
	return ticks(c.TickRateHz, c.SettleSeconds)
}

// ticks truncates hz*seconds, saturating at the Validate bounds so an
// unvalidated config can never wrap negative.
func ticks(hz, seconds float64) int {
	n := hz * seconds
	if !(n > 0) {
		return 0
	}
	return int(math.Min(n, MaxTickRateHz*MaxPhaseSeconds))
}
