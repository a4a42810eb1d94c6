// package common contains plain data types and math helpers shared by the engine packages.
// They are not interface-wrapped structs, just plain structs that express commonly used data-types.
package common

import (
	"github.com/chewxy/math32"
)

// Bounds is an axis-aligned box expressed as a center and half-extent, relative to its owner.
type Bounds struct {
	// Origin is the box center in the owner's local space.
	Origin [3]float32
	// Extent is the half-size of the box along each axis.
	Extent [3]float32
}

// Translate returns the bounds moved by the given offset.
//
// Parameters:
//   - offset: world-space translation
//
// Returns:
//   - Bounds: the translated bounds
func (b Bounds) Translate(offset [3]float32) Bounds {
	return Bounds{
		Origin: [3]float32{b.Origin[0] + offset[0], b.Origin[1] + offset[1], b.Origin[2] + offset[2]},
		Extent: b.Extent,
	}
}

// SphereRadius returns the radius of the sphere enclosing the box.
func (b Bounds) SphereRadius() float32 {
	return math32.Sqrt(b.Extent[0]*b.Extent[0] + b.Extent[1]*b.Extent[1] + b.Extent[2]*b.Extent[2])
}

// BoundsFromPoints computes the tightest box around a flat xyz position array.
// Returns zero bounds when positions is empty.
//
// Parameters:
//   - positions: packed x, y, z triples
//
// Returns:
//   - Bounds: the enclosing box
func BoundsFromPoints(positions []float32) Bounds {
	if len(positions) < 3 {
		return Bounds{}
	}
	lo := [3]float32{positions[0], positions[1], positions[2]}
	hi := lo
	for i := 3; i+2 < len(positions); i += 3 {
		for a := 0; a < 3; a++ {
			lo[a] = math32.Min(lo[a], positions[i+a])
			hi[a] = math32.Max(hi[a], positions[i+a])
		}
	}
	var b Bounds
	for a := 0; a < 3; a++ {
		b.Origin[a] = (lo[a] + hi[a]) * 0.5
		b.Extent[a] = (hi[a] - lo[a]) * 0.5
	}
	return b
}

// Distance returns the euclidean distance between two points.
func Distance(a, b [3]float32) float32 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math32.Sqrt(dx*dx + dy*dy + dz*dz)
}
