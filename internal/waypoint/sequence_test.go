package waypoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/supplybot/internal/geometry"
)

func TestNewSequence(t *testing.T) {
	detected := []geometry.Point{
		geometry.Pt(0, 10),  // 180
		geometry.Pt(10, 0),  // 90
		geometry.Pt(-10, 0), // 90, detected after the previous one
	}
	home := geometry.Pt(0, -20) // same direction as apex: 0

	seq, err := NewSequence(detected, home, origin, apex)
	require.NoError(t, err)
	require.Equal(t, 4, seq.Len())

	var got []int
	for _, n := range seq.Nodes() {
		got = append(got, n.ID)
	}
	assert.Equal(t, []int{3, 1, 2, 0}, got)

	h := seq.Home()
	assert.True(t, h.Home)
	assert.Equal(t, 3, h.ID)
	assert.Equal(t, home, h.Position)
	assert.Equal(t, 0, seq.HomeIndex())
	assert.Equal(t, origin, seq.Origin())
	assert.Equal(t, apex, seq.Apex())
}

func TestSequence_NodesAreCopies(t *testing.T) {
	seq, err := NewSequence([]geometry.Point{geometry.Pt(5, 5)}, geometry.Pt(0, -3), origin, apex)
	require.NoError(t, err)

	nodes := seq.Nodes()
	nodes[0].Position = geometry.Pt(99, 99)
	assert.NotEqual(t, geometry.Pt(99, 99), seq.At(0).Position)
}

func TestSequence_Nearest(t *testing.T) {
	seq, err := NewSequence([]geometry.Point{
		geometry.Pt(0, 10),
		geometry.Pt(10, 0),
	}, geometry.Pt(0, -20), origin, apex)
	require.NoError(t, err)

	n, idx, err := seq.Nearest(geometry.Pt(9, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n.ID)
	assert.Equal(t, 1, idx)
	assert.Equal(t, idx, seq.IndexOf(n.ID))
	assert.Equal(t, -1, seq.IndexOf(42))
}

func TestNewSequence_HomeAtOrigin(t *testing.T) {
	_, err := NewSequence([]geometry.Point{geometry.Pt(5, 5)}, origin, origin, apex)
	assert.ErrorIs(t, err, geometry.ErrDegenerateGeometry)
}
