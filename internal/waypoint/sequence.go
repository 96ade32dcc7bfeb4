package waypoint

import (
	"fmt"

	"github.com/banshee-data/supplybot/internal/geometry"
)

// Sequence is the immutable, bearing-ordered set of nodes for one run. The
// home node is supplied explicitly and is always a member.
type Sequence struct {
	origin geometry.Point
	apex   geometry.Point
	nodes  []*Node
	home   *Node
}

// NewSequence builds nodes from detected positions in detection order, adds
// the home node after them, computes every bearing at origin relative to apex
// and orders the result.
func NewSequence(detected []geometry.Point, home, origin, apex geometry.Point) (*Sequence, error) {
	nodes := make([]*Node, 0, len(detected)+1)
	for i, p := range detected {
		nodes = append(nodes, NewNode(i, p))
	}
	h := NewNode(len(detected), home)
	h.Home = true
	nodes = append(nodes, h)

	sorted, err := SortNodes(nodes, origin, apex)
	if err != nil {
		return nil, fmt.Errorf("order waypoints: %w", err)
	}
	return &Sequence{origin: origin, apex: apex, nodes: sorted, home: h}, nil
}

// Len returns the number of nodes, home included.
func (s *Sequence) Len() int { return len(s.nodes) }

// At returns a copy of the node at index i of the ordered sequence.
func (s *Sequence) At(i int) Node { return *s.nodes[i] }

// Nodes returns copies of the ordered nodes.
func (s *Sequence) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = *n
	}
	return out
}

// Home returns a copy of the home node.
func (s *Sequence) Home() Node { return *s.home }

// HomeIndex returns the index of the home node in the ordered sequence.
func (s *Sequence) HomeIndex() int { return s.IndexOf(s.home.ID) }

// IndexOf returns the ordered index of the node with the given ID, or -1.
func (s *Sequence) IndexOf(id int) int {
	for i, n := range s.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Origin returns the reference origin the bearings were measured at.
func (s *Sequence) Origin() geometry.Point { return s.origin }

// Apex returns the reference point that defined zero bearing.
func (s *Sequence) Apex() geometry.Point { return s.apex }

// Nearest returns the ordered node closest to target and its ordered index.
func (s *Sequence) Nearest(target geometry.Point) (Node, int, error) {
	n, idx, err := NearestNode(s.nodes, target)
	if err != nil {
		return Node{}, -1, err
	}
	return *n, idx, nil
}
