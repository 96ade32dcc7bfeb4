// Package waypoint models the candidate stop positions detected on the arena
// and orders them by bearing around the arena origin.
package waypoint

import (
	"errors"
	"fmt"
	"slices"

	"github.com/banshee-data/supplybot/internal/geometry"
)

var (
	// ErrBearingUnset is returned when a node is ordered before its bearing
	// has been computed.
	ErrBearingUnset = errors.New("bearing not computed")
	// ErrBearingSet is returned when a bearing is computed a second time.
	ErrBearingSet = errors.New("bearing already computed")
)

// Node is a candidate waypoint. ID is the position of the node in detection
// order; the synthetic home node takes the ID after the last detection.
type Node struct {
	ID       int
	Position geometry.Point
	Home     bool

	bearing    float64
	hasBearing bool
}

// NewNode returns a node with no bearing.
func NewNode(id int, p geometry.Point) *Node {
	return &Node{ID: id, Position: p}
}

// Bearing returns the node's bearing in degrees and whether it is set.
func (n Node) Bearing() (float64, bool) {
	return n.bearing, n.hasBearing
}

// ComputeBearing sets the bearing of n to the angle at origin between apex
// and the node position. It may only be called once per node.
func (n *Node) ComputeBearing(origin, apex geometry.Point) error {
	if n.hasBearing {
		return fmt.Errorf("node %d: %w", n.ID, ErrBearingSet)
	}
	b, err := geometry.Angle(origin, apex, n.Position)
	if err != nil {
		return fmt.Errorf("node %d bearing: %w", n.ID, err)
	}
	n.bearing = b
	n.hasBearing = true
	return nil
}

func (n Node) String() string {
	if n.Home {
		return fmt.Sprintf("home%v", n.Position)
	}
	return fmt.Sprintf("node%d%v", n.ID, n.Position)
}

// SortNodes computes the bearing of every node that lacks one and returns a
// new slice ordered by ascending bearing. Equal bearings keep their input
// order.
func SortNodes(nodes []*Node, origin, apex geometry.Point) ([]*Node, error) {
	for _, n := range nodes {
		if _, ok := n.Bearing(); ok {
			continue
		}
		if err := n.ComputeBearing(origin, apex); err != nil {
			return nil, err
		}
	}
	return sortByBearing(nodes)
}

func sortByBearing(nodes []*Node) ([]*Node, error) {
	for _, n := range nodes {
		if !n.hasBearing {
			return nil, fmt.Errorf("sort node %d: %w", n.ID, ErrBearingUnset)
		}
	}
	sorted := slices.Clone(nodes)
	slices.SortStableFunc(sorted, func(a, b *Node) int {
		switch {
		case a.bearing < b.bearing:
			return -1
		case a.bearing > b.bearing:
			return 1
		}
		return 0
	})
	return sorted, nil
}

// NearestNode returns the node closest to target and its index in nodes.
// Ties resolve to the first node in input order.
func NearestNode(nodes []*Node, target geometry.Point) (*Node, int, error) {
	pts := make([]geometry.Point, len(nodes))
	for i, n := range nodes {
		pts[i] = n.Position
	}
	idx, err := geometry.Nearest(pts, target)
	if err != nil {
		return nil, -1, err
	}
	return nodes[idx], idx, nil
}
