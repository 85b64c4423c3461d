package sim

import "broadphase/internal/spatial"

// Body is a moving (or static) box in the world. Bodies are handles into the
// spatial index; only the world mutates them, under its write lock.
type Body struct {
	ID       string
	Box      spatial.AABB
	VX, VY   float64 // World units per second
	Static   bool
	Contacts int // Narrow-phase contacts found in the last tick

	seq   uint32 // Creation order, used for pair ordering and dedupe
	order int    // Position in World.order
}

// Bounds implements spatial.Object.
func (b *Body) Bounds() spatial.AABB {
	return b.Box
}

// Snapshot returns an immutable copy of the body.
func (b *Body) Snapshot() BodySnapshot {
	return BodySnapshot{
		ID:       b.ID,
		X:        b.Box.X,
		Y:        b.Box.Y,
		Width:    b.Box.Width,
		Height:   b.Box.Height,
		VX:       b.VX,
		VY:       b.VY,
		Static:   b.Static,
		Contacts: b.Contacts,
	}
}

// BodyOptions describes a body to add. An empty ID gets one generated.
type BodyOptions struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Static bool    `json:"static"`
}

// BodySnapshot is an immutable copy of body state for API and rendering
type BodySnapshot struct {
	ID       string  `json:"id" msgpack:"id"`
	X        float64 `json:"x" msgpack:"x"`
	Y        float64 `json:"y" msgpack:"y"`
	Width    float64 `json:"width" msgpack:"w"`
	Height   float64 `json:"height" msgpack:"h"`
	VX       float64 `json:"vx" msgpack:"vx"`
	VY       float64 `json:"vy" msgpack:"vy"`
	Static   bool    `json:"static" msgpack:"static"`
	Contacts int     `json:"contacts" msgpack:"contacts"`
}

// Box returns the snapshot's bounds.
func (s BodySnapshot) Box() spatial.AABB {
	return spatial.AABB{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
}
