// Package spatial provides a uniform-grid spatial hash for broad-phase
// collision detection, proximity queries, and culling.
//
// Objects are mapped into fixed-size cells keyed by integer cell coordinates.
// The index owns its bucket storage and a membership record per object; the
// objects themselves stay owned (and unmodified) by the caller.
//
// A Hash is not safe for concurrent use. Queries may run concurrently with
// each other, but never with Insert, Remove, or Clear.
package spatial

import "math"

// AABB is an axis-aligned bounding box anchored at its minimum corner.
type AABB struct {
	X, Y          float64
	Width, Height float64
}

// MaxX returns the far edge on the X axis.
func (b AABB) MaxX() float64 { return b.X + b.Width }

// MaxY returns the far edge on the Y axis.
func (b AABB) MaxY() float64 { return b.Y + b.Height }

// Valid reports whether the box has finite coordinates and a non-negative size.
func (b AABB) Valid() bool {
	if !finite(b.X) || !finite(b.Y) || !finite(b.Width) || !finite(b.Height) {
		return false
	}
	return b.Width >= 0 && b.Height >= 0
}

// Overlaps reports whether two boxes intersect, edges included.
// The index never calls this; it is the narrow-phase test callers run on
// the candidates a query returns.
func (b AABB) Overlaps(o AABB) bool {
	return b.X <= o.MaxX() && o.X <= b.MaxX() &&
		b.Y <= o.MaxY() && o.Y <= b.MaxY()
}

// Contains reports whether the point lies inside the box, edges included.
func (b AABB) Contains(x, y float64) bool {
	return x >= b.X && x <= b.MaxX() && y >= b.Y && y <= b.MaxY()
}

// Center returns the midpoint of the box.
func (b AABB) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Translate returns the box moved by (dx, dy).
func (b AABB) Translate(dx, dy float64) AABB {
	b.X += dx
	b.Y += dy
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Object is anything the index can hold: a comparable handle (typically a
// pointer) that exposes its current bounds.
type Object interface {
	comparable
	Bounds() AABB
}
