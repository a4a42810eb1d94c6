package common

import (
	"github.com/chewxy/math32"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   [3]float32
	Distance float32
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustumFromMatrix extracts frustum planes from a column-major view-projection matrix
// using the Gribb/Hartmann method. Each plane is a sum or difference of the fourth row with
// one of the first three rows.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: 16 float32 values representing the view-projection matrix (column-major)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustumFromMatrix(viewProj []float32) Frustum {
	var f Frustum

	// M[row][col] lives at viewProj[col*4+row].
	row := func(r int) [4]float32 {
		return [4]float32{viewProj[r], viewProj[4+r], viewProj[8+r], viewProj[12+r]}
	}
	w := row(3)

	combine := func(index int, r [4]float32, sign float32) {
		p := &f.Planes[index]
		p.Normal[0] = w[0] + sign*r[0]
		p.Normal[1] = w[1] + sign*r[1]
		p.Normal[2] = w[2] + sign*r[2]
		p.Distance = w[3] + sign*r[3]
	}

	combine(FrustumLeft, row(0), 1)
	combine(FrustumRight, row(0), -1)
	combine(FrustumBottom, row(1), 1)
	combine(FrustumTop, row(1), -1)
	combine(FrustumNear, row(2), 1)
	combine(FrustumFar, row(2), -1)

	for i := range f.Planes {
		f.normalizePlane(i)
	}

	return f
}

// IntersectsBox reports whether an axis-aligned box touches the frustum.
// The test is conservative: boxes straddling a corner outside the frustum may report true.
//
// Parameters:
//   - center: world-space box center
//   - extent: half-size along each axis
//
// Returns:
//   - bool: false only when the box lies entirely outside one plane
func (f Frustum) IntersectsBox(center, extent [3]float32) bool {
	for _, p := range f.Planes {
		r := extent[0]*math32.Abs(p.Normal[0]) +
			extent[1]*math32.Abs(p.Normal[1]) +
			extent[2]*math32.Abs(p.Normal[2])
		d := p.Normal[0]*center[0] + p.Normal[1]*center[1] + p.Normal[2]*center[2] + p.Distance
		if d < -r {
			return false
		}
	}
	return true
}

// normalizePlane normalizes a frustum plane so that the normal has unit length.
func (f *Frustum) normalizePlane(index int) {
	p := &f.Planes[index]
	length := math32.Sqrt(p.Normal[0]*p.Normal[0] + p.Normal[1]*p.Normal[1] + p.Normal[2]*p.Normal[2])
	if length > 0 {
		invLen := 1.0 / length
		p.Normal[0] *= invLen
		p.Normal[1] *= invLen
		p.Normal[2] *= invLen
		p.Distance *= invLen
	}
}
