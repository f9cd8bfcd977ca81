// Package orb maps frequency snapshots onto a rotating Fibonacci sphere of
// particles.
package orb

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultCount is the number of particles in the field.
const DefaultCount = 800

// Per-frame drift in radians.
const (
	DriftY = 0.003
	DriftZ = 0.001
)

// Base and peak radius of a particle.
const (
	MinRadius = 2.2
	Expansion = 1.5
)

// golden angle
var phi = math.Pi * (3 - math.Sqrt(5))

// Layout returns n points spread evenly over the unit sphere.
func Layout(n int) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		y := 0.0
		if n > 1 {
			y = 1 - float64(i)/float64(n-1)*2
		}
		r := math.Sqrt(max(0, 1-y*y))
		theta := float64(i) * phi
		pts[i] = r3.Vec{X: math.Cos(theta) * r, Y: y, Z: math.Sin(theta) * r}
	}
	return pts
}

// Radius maps a normalized magnitude to a particle's distance from the center.
func Radius(f float64) float64 {
	return MinRadius + Expansion*f
}

// Color maps a normalized magnitude from cyan/blue (quiet) to purple/pink (loud).
func Color(f float64) colorful.Color {
	return colorful.Hsl((0.6-0.4*f)*360, 1, 0.4+0.4*f)
}

// Point is one particle as drawn in a frame.
type Point struct {
	Position r3.Vec
	Color    colorful.Color
}

// Renderer holds the fixed base layout.
type Renderer struct {
	base []r3.Vec
}

// NewRenderer builds a field of n particles; n <= 0 selects DefaultCount.
func NewRenderer(n int) *Renderer {
	if n <= 0 {
		n = DefaultCount
	}
	return &Renderer{base: Layout(n)}
}

// Len is the particle count.
func (r *Renderer) Len() int { return len(r.base) }

// Base returns a copy of the unit-sphere layout.
func (r *Renderer) Base() []r3.Vec {
	return append([]r3.Vec(nil), r.base...)
}

// Render computes every particle for the given frame. Particle i reads bin
// i mod len(snapshot); an empty snapshot renders the field at rest. The
// result depends only on tick and snapshot.
func (r *Renderer) Render(tick uint64, snapshot []byte) []Point {
	rz := r3.NewRotation(float64(tick)*DriftZ, r3.Vec{Z: 1})
	ry := r3.NewRotation(float64(tick)*DriftY, r3.Vec{Y: 1})

	out := make([]Point, len(r.base))
	for i, b := range r.base {
		f := 0.0
		if len(snapshot) > 0 {
			f = float64(snapshot[i%len(snapshot)]) / 255
		}
		p := r3.Scale(Radius(f), b)
		out[i] = Point{
			Position: ry.Rotate(rz.Rotate(p)),
			Color:    Color(f),
		}
	}
	return out
}
