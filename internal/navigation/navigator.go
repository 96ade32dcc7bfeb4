// Package navigation drives the robot through a trajectory by comparing a
// live bearing against fixed thresholds once per control tick and emitting
// discrete actuator commands.
package navigation

import (
	"fmt"

	"github.com/banshee-data/supplybot/internal/trajectory"
)

// State is the navigation state machine's current mode.
type State int

const (
	StateApproaching State = iota + 1
	StateStopped
	StateDone
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateApproaching:
		return "APPROACHING"
	case StateStopped:
		return "STOPPED"
	case StateDone:
		return "DONE"
	case StateFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateApproaching; st <= StateFinished; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown navigation state %q", b)
}

// lastStop is the trajectory index whose arrival ends the run.
const lastStop = trajectory.Stops - 1

// Navigator is the per-tick state machine. It is not safe for concurrent
// use; the control loop owns it.
type Navigator struct {
	cfg Config

	state   State
	index   int
	dwell   int
	settle  int
	bearing float64
	ticks   int
}

// NewNavigator returns a navigator in APPROACHING(0).
func NewNavigator(cfg Config) *Navigator {
	return &Navigator{cfg: cfg, state: StateApproaching}
}

// State returns the current state.
func (n *Navigator) State() State { return n.state }

// Index returns the trajectory index of the current target.
func (n *Navigator) Index() int { return n.index }

// NeedsBearing reports whether the next Step compares a bearing. Once the
// final arrival is signalled the bearing is ignored.
func (n *Navigator) NeedsBearing() bool {
	return n.state == StateApproaching || n.state == StateStopped
}

// Step advances the state machine by one tick and returns the commands to
// emit, in order. Most ticks emit nothing or a single command.
//
// The reset threshold is tested before the coin threshold. With the default
// values (reset 8°, coin 5°) every bearing that passes the coin test has
// already matched the reset test, so the robot is re-armed rather than
// stopped.
func (n *Navigator) Step(bearing float64) []Command {
	n.ticks++

	switch n.state {
	case StateFinished:
		return nil
	case StateDone:
		if n.settle >= n.cfg.SettleTicks() {
			n.state = StateFinished
			return nil
		}
		n.settle++
		return nil
	}

	n.bearing = bearing
	if bearing < n.cfg.ResetThresholdDeg {
		return []Command{CommandReset}
	}
	if bearing >= n.cfg.CoinThresholdDeg {
		return nil
	}

	var out []Command
	if n.state == StateApproaching {
		out = append(out, CommandStop)
		n.state = StateStopped
		n.dwell = 0
	} else {
		n.dwell++
	}

	if n.dwell >= n.cfg.DwellTicks() {
		n.index++
		if n.index == lastStop {
			out = append(out, CommandLongBeep)
			n.state = StateDone
			n.settle = 0
		} else {
			out = append(out, CommandMove)
			n.state = StateApproaching
		}
	}
	return out
}

// Snapshot is a copy of the navigator's state for reporting.
type Snapshot struct {
	State   State   `json:"state"`
	Index   int     `json:"index"`
	Dwell   int     `json:"dwell_ticks"`
	Settle  int     `json:"settle_ticks"`
	Bearing float64 `json:"bearing_deg"`
	Ticks   int     `json:"ticks"`
}

// Snapshot returns the current state.
func (n *Navigator) Snapshot() Snapshot {
	return Snapshot{
		State:   n.state,
		Index:   n.index,
		Dwell:   n.dwell,
		Settle:  n.settle,
		Bearing: n.bearing,
		Ticks:   n.ticks,
	}
}
