// Package geometry holds the planar helpers used to order waypoints and to
// measure the live bearing of the robot. Coordinates are image pixels.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrDegenerateGeometry is returned when an angle is requested at an
	// origin that coincides with one of the two points.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrEmptyInput is returned by searches over an empty point set.
	ErrEmptyInput = errors.New("empty input")
)

// anglePrecision is the number of decimal places kept by Angle.
const anglePrecision = 2

// Point is an (x, y) coordinate in image pixel space.
type Point struct {
	X, Y float64
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

func (p Point) vec() r2.Vec {
	return r2.Vec(p)
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return r2.Norm(r2.Sub(p.vec(), q.vec()))
}

// Dist2 returns the squared Euclidean distance between p and q.
func (p Point) Dist2(q Point) float64 {
	return r2.Norm2(r2.Sub(p.vec(), q.vec()))
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Angle returns the angle in degrees at origin subtended by the rays to p1
// and p2, rounded to two decimal places. The result lies in [0, 180].
func Angle(origin, p1, p2 Point) (float64, error) {
	a := origin.Dist(p1)
	b := origin.Dist(p2)
	if a == 0 || b == 0 {
		return 0, fmt.Errorf("angle at %v between %v and %v: %w", origin, p1, p2, ErrDegenerateGeometry)
	}
	c := p1.Dist(p2)

	cos := (a*a + b*b - c*c) / (2 * a * b)
	// rounding error can push |cos| just past 1 for (anti)parallel rays
	cos = math.Max(-1, math.Min(1, cos))

	deg := math.Acos(cos) * 180 / math.Pi
	return scalar.Round(deg, anglePrecision), nil
}

// Nearest returns the index of the point in points closest to target.
// Ties resolve to the lowest index.
func Nearest(points []Point, target Point) (int, error) {
	if len(points) == 0 {
		return -1, fmt.Errorf("nearest to %v: %w", target, ErrEmptyInput)
	}
	best := 0
	bestD := points[0].Dist2(target)
	for i := 1; i < len(points); i++ {
		if d := points[i].Dist2(target); d < bestD {
			best, bestD = i, d
		}
	}
	return best, nil
}
