package orb

// Frame is the wire form of a rendered field: flat xyz and rgb triples in
// particle order.
type Frame struct {
	Tick      uint64    `json:"tick"`
	Positions []float32 `json:"positions"`
	Colors    []float32 `json:"colors"`
}

// Encode flattens rendered points into a Frame.
func Encode(tick uint64, pts []Point) Frame {
	f := Frame{
		Tick:      tick,
		Positions: make([]float32, 0, 3*len(pts)),
		Colors:    make([]float32, 0, 3*len(pts)),
	}
	for _, p := range pts {
		f.Positions = append(f.Positions, float32(p.Position.X), float32(p.Position.Y), float32(p.Position.Z))
		f.Colors = append(f.Colors, float32(p.Color.R), float32(p.Color.G), float32(p.Color.B))
	}
	return f
}
