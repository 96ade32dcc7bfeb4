package waypoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/supplybot/internal/geometry"
)

var (
	origin = geometry.Pt(0, 0)
	apex   = geometry.Pt(0, -10)
)

func ids(nodes []*Node) []int {
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestComputeBearing(t *testing.T) {
	n := NewNode(0, geometry.Pt(10, 0))
	_, ok := n.Bearing()
	assert.False(t, ok)

	require.NoError(t, n.ComputeBearing(origin, apex))
	b, ok := n.Bearing()
	assert.True(t, ok)
	assert.Equal(t, 90.0, b)
}

func TestComputeBearing_OnlyOnce(t *testing.T) {
	n := NewNode(0, geometry.Pt(10, 0))
	require.NoError(t, n.ComputeBearing(origin, apex))

	err := n.ComputeBearing(origin, geometry.Pt(10, 0))
	assert.ErrorIs(t, err, ErrBearingSet)
	b, _ := n.Bearing()
	assert.Equal(t, 90.0, b, "bearing must not change")
}

func TestComputeBearing_NodeAtOrigin(t *testing.T) {
	n := NewNode(3, origin)
	err := n.ComputeBearing(origin, apex)
	assert.ErrorIs(t, err, geometry.ErrDegenerateGeometry)
}

func TestSortNodes(t *testing.T) {
	nodes := []*Node{
		NewNode(0, geometry.Pt(0, 10)),   // 180
		NewNode(1, geometry.Pt(10, 0)),   // 90
		NewNode(2, geometry.Pt(0, -5)),   // 0
		NewNode(3, geometry.Pt(10, -10)), // 45
	}
	sorted, err := SortNodes(nodes, origin, apex)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 0}, ids(sorted))
	assert.Equal(t, []int{0, 1, 2, 3}, ids(nodes), "input must not be reordered")
}

func TestSortNodes_StableForEqualBearings(t *testing.T) {
	// mirrored points have the same bearing
	nodes := []*Node{
		NewNode(0, geometry.Pt(-10, 0)),
		NewNode(1, geometry.Pt(0, 10)),
		NewNode(2, geometry.Pt(10, 0)),
		NewNode(3, geometry.Pt(-7, -7)),
		NewNode(4, geometry.Pt(7, -7)),
	}
	sorted, err := SortNodes(nodes, origin, apex)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 0, 2, 1}, ids(sorted))
}

func TestSortNodes_Permutation(t *testing.T) {
	var nodes []*Node
	for i := 0; i < 12; i++ {
		nodes = append(nodes, NewNode(i, geometry.Pt(float64(i*7%13)+1, float64(i*5%11)-4)))
	}
	sorted, err := SortNodes(nodes, origin, apex)
	require.NoError(t, err)
	require.Len(t, sorted, len(nodes))
	assert.ElementsMatch(t, nodes, sorted)

	for i := 1; i < len(sorted); i++ {
		prev, _ := sorted[i-1].Bearing()
		cur, _ := sorted[i].Bearing()
		assert.LessOrEqual(t, prev, cur)
	}
}

func TestSortByBearing_Unset(t *testing.T) {
	_, err := sortByBearing([]*Node{NewNode(0, geometry.Pt(1, 1))})
	assert.ErrorIs(t, err, ErrBearingUnset)
}

func TestNearestNode(t *testing.T) {
	nodes := []*Node{
		NewNode(0, geometry.Pt(0, 10)),
		NewNode(1, geometry.Pt(10, 0)),
		NewNode(2, geometry.Pt(0, -5)),
	}
	n, idx, err := NearestNode(nodes, geometry.Pt(8, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Same(t, nodes[1], n)

	_, _, err = NearestNode(nil, geometry.Pt(8, 1))
	assert.ErrorIs(t, err, geometry.ErrEmptyInput)
}
