package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMovingAverage(t *testing.T) {
	m := NewMovingAverage(3)
	assert.Zero(t, m.Average())

	m.Add(2 * time.Millisecond)
	m.Add(4 * time.Millisecond)
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 3*time.Millisecond, m.Average())

	m.Add(6 * time.Millisecond)
	m.Add(9 * time.Millisecond)
	assert.Equal(t, 3, m.Count())
	assert.Equal(t, 19*time.Millisecond/3, m.Average())
	assert.Equal(t, 9*time.Millisecond, m.Max())

	m.Reset()
	assert.Zero(t, m.Count())
	assert.Zero(t, m.Max())
}

func TestBoundsFromPoints(t *testing.T) {
	b := BoundsFromPoints([]float32{-1, 0, 2, 3, 4, 2})
	assert.Equal(t, [3]float32{1, 2, 2}, b.Origin)
	assert.Equal(t, [3]float32{2, 2, 0}, b.Extent)
	assert.InDelta(t, 2.8284, b.SphereRadius(), 1e-3)

	moved := b.Translate([3]float32{1, 1, 1})
	assert.Equal(t, [3]float32{2, 3, 3}, moved.Origin)
	assert.Equal(t, b.Extent, moved.Extent)

	assert.Equal(t, Bounds{}, BoundsFromPoints(nil))
}

func TestCoalesce(t *testing.T) {
	assert.Equal(t, 3, Coalesce(0, 3, 4))
	assert.Equal(t, "x", Coalesce("", "x"))
	assert.Zero(t, Coalesce(0, 0))
}

func TestFrustumFromPerspective(t *testing.T) {
	proj := make([]float32, 16)
	view := make([]float32, 16)
	vp := make([]float32, 16)
	Perspective(proj, 1.0, 1, 0.1, 50)
	LookAt(view, 0, 0, 5, 0, 0, 0, 0, 1, 0)
	Mul4(vp, proj, view)
	f := ExtractFrustumFromMatrix(vp)

	ext := [3]float32{0.5, 0.5, 0.5}
	assert.True(t, f.IntersectsBox([3]float32{0, 0, 0}, ext))
	assert.False(t, f.IntersectsBox([3]float32{0, 0, 10}, ext))
	assert.False(t, f.IntersectsBox([3]float32{0, 0, -100}, ext))
}
