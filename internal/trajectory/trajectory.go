// Package trajectory selects the four stops of a run from the ordered
// waypoints and the detected pickup targets.
package trajectory

import (
	"errors"
	"fmt"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/waypoint"
)

var (
	// ErrMissingDetection is returned when the vision collaborator did not
	// supply the required number of coordinates.
	ErrMissingDetection = errors.New("missing detection")
	// ErrDuplicateWaypoint is returned when two stops resolve to the same node.
	ErrDuplicateWaypoint = errors.New("duplicate waypoint")
)

// Stops is the fixed length of a trajectory.
const Stops = 4

// SecondaryTargets is the number of secondary pickup targets per run.
const SecondaryTargets = 2

// minWaypoints is the fewest detected waypoints that can yield three
// distinct pickup stops.
const minWaypoints = 3

// Relief aid categories written to the run report.
const (
	CategoryPriority  = "Medical Aid"
	CategorySecondary = "Food Supply"
)

// Role identifies what a stop is for.
type Role int

const (
	RolePriority Role = iota + 1
	RoleSecondary
	RoleHome
)

func (r Role) String() string {
	switch r {
	case RolePriority:
		return "priority"
	case RoleSecondary:
		return "secondary"
	case RoleHome:
		return "home"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Stop is one entry of a trajectory. Index is the 0-based position of the
// node in the ordered sequence.
type Stop struct {
	Role  Role
	Node  waypoint.Node
	Index int
}

// Target returns the stop's position.
func (s Stop) Target() geometry.Point { return s.Node.Position }

// Trajectory is the ordered list [priority, secondary A, secondary B, home].
type Trajectory struct {
	stops [Stops]Stop
}

// Len always returns Stops.
func (t *Trajectory) Len() int { return Stops }

// At returns stop i.
func (t *Trajectory) At(i int) Stop { return t.stops[i] }

// Stops returns a copy of all four stops.
func (t *Trajectory) Stops() []Stop {
	out := make([]Stop, Stops)
	copy(out, t.stops[:])
	return out
}

// ReportRow maps a 1-based waypoint number to its relief aid category.
type ReportRow struct {
	Node     int    `json:"node"`
	Category string `json:"category"`
}

// Report returns the rows for the three pickup stops in visiting order.
func (t *Trajectory) Report() []ReportRow {
	rows := make([]ReportRow, 0, Stops-1)
	for _, s := range t.stops[:Stops-1] {
		cat := CategorySecondary
		if s.Role == RolePriority {
			cat = CategoryPriority
		}
		rows = append(rows, ReportRow{Node: s.Index + 1, Category: cat})
	}
	return rows
}

type candidate struct {
	node  waypoint.Node
	index int
	angle float64
}

// Assemble picks the nodes nearest to the priority and secondary targets and
// orders the secondaries by their angle at the origin from the priority
// node, smaller angle first. Equal angles keep detection order.
func Assemble(seq *waypoint.Sequence, priority geometry.Point, secondary []geometry.Point) (*Trajectory, error) {
	if len(secondary) != SecondaryTargets {
		return nil, fmt.Errorf("got %d secondary targets, want %d: %w", len(secondary), SecondaryTargets, ErrMissingDetection)
	}

	pNode, pIdx, err := seq.Nearest(priority)
	if err != nil {
		return nil, fmt.Errorf("priority target: %w", err)
	}

	var cands [SecondaryTargets]candidate
	for i, coord := range secondary {
		n, idx, err := seq.Nearest(coord)
		if err != nil {
			return nil, fmt.Errorf("secondary target %d: %w", i, err)
		}
		a, err := geometry.Angle(seq.Origin(), pNode.Position, n.Position)
		if err != nil {
			return nil, fmt.Errorf("secondary target %d: %w", i, err)
		}
		cands[i] = candidate{node: n, index: idx, angle: a}
	}

	first, second := cands[0], cands[1]
	if second.angle < first.angle {
		first, second = second, first
	}

	home := seq.Home()
	t := &Trajectory{stops: [Stops]Stop{
		{Role: RolePriority, Node: pNode, Index: pIdx},
		{Role: RoleSecondary, Node: first.node, Index: first.index},
		{Role: RoleSecondary, Node: second.node, Index: second.index},
		{Role: RoleHome, Node: home, Index: seq.HomeIndex()},
	}}
	if err := t.checkDistinct(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trajectory) checkDistinct() error {
	seen := make(map[int]int, Stops)
	for i, s := range t.stops {
		if j, ok := seen[s.Node.ID]; ok {
			return fmt.Errorf("stops %d and %d both resolve to %v: %w", j, i, s.Node, ErrDuplicateWaypoint)
		}
		seen[s.Node.ID] = i
	}
	return nil
}
