package trajectory

import (
	"fmt"

	"github.com/banshee-data/supplybot/internal/geometry"
	"github.com/banshee-data/supplybot/internal/waypoint"
)

// Detections is everything the vision collaborator extracts from the
// overhead image before the run starts.
type Detections struct {
	Origin    geometry.Point
	Priority  geometry.Point
	Secondary []geometry.Point
	Waypoints []geometry.Point
	// Marker is the robot's starting position. It is both the zero-bearing
	// reference and the home node.
	Marker geometry.Point
}

// Validate checks the coordinate counts.
func (d Detections) Validate() error {
	if len(d.Secondary) != SecondaryTargets {
		return fmt.Errorf("got %d secondary targets, want %d: %w", len(d.Secondary), SecondaryTargets, ErrMissingDetection)
	}
	if len(d.Waypoints) < minWaypoints {
		return fmt.Errorf("got %d waypoints, want at least %d: %w", len(d.Waypoints), minWaypoints, ErrMissingDetection)
	}
	return nil
}

// Plan validates d, orders its waypoints around the origin using the marker
// as the reference point, and assembles the trajectory.
func Plan(d Detections) (*waypoint.Sequence, *Trajectory, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	seq, err := waypoint.NewSequence(d.Waypoints, d.Marker, d.Origin, d.Marker)
	if err != nil {
		return nil, nil, err
	}
	t, err := Assemble(seq, d.Priority, d.Secondary)
	if err != nil {
		return nil, nil, err
	}
	return seq, t, nil
}
