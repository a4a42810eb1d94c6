package camera

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_DefaultPosition(t *testing.T) {
	cc := NewCameraController(WithRadius(10), WithElevation(0))

	x, y, z := cc.Position()
	assert.InDelta(t, 0, x, 1e-4)
	assert.InDelta(t, 0, y, 1e-4)
	assert.InDelta(t, 10, z, 1e-4)
}

func TestController_OrbitFollowsTarget(t *testing.T) {
	cc := NewCameraController(WithRadius(5), WithElevation(0), WithTarget(1, 2, 3))

	x, y, z := cc.Position()
	assert.InDelta(t, 1, x, 1e-4)
	assert.InDelta(t, 2, y, 1e-4)
	assert.InDelta(t, 8, z, 1e-4)

	cc.SetTarget(0, 0, 0)
	_, _, z = cc.Position()
	assert.InDelta(t, 5, z, 1e-4)
}

func TestController_Clamping(t *testing.T) {
	cc := NewCameraController(WithRadius(10), WithRadiusLimits(2, 20), WithZoomSpeed(1), WithOrbitSpeed(1))

	cc.Zoom(100)
	assert.Equal(t, float32(2), cc.Radius())

	cc.SetRadius(1000)
	assert.Equal(t, float32(20), cc.Radius())

	for range 10 {
		cc.OrbitUp()
	}
	assert.InDelta(t, math32.Pi/2-0.1, cc.Elevation(), 1e-5)

	for range 10 {
		cc.OrbitDown()
	}
	assert.InDelta(t, -math32.Pi/2+0.1, cc.Elevation(), 1e-5)

	start := cc.Azimuth()
	cc.OrbitRight()
	cc.OrbitRight()
	cc.OrbitLeft()
	assert.InDelta(t, start+1, cc.Azimuth(), 1e-5)
}

func TestCamera_WithoutControllerKeepsIdentity(t *testing.T) {
	c := NewCamera()

	assert.Nil(t, c.Controller())
	assert.Equal(t, [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, c.ViewMatrix())
	assert.Equal(t, [3]float32{}, c.Position())
}

func TestCamera_FrustumCulling(t *testing.T) {
	cc := NewCameraController(WithRadius(10), WithElevation(0))
	c := NewCamera(WithController(cc), WithFar(50))

	assert.Equal(t, [3]float32{0, 0, 10}, roundVec(c.Position()))

	f := c.Frustum()
	extent := [3]float32{0.5, 0.5, 0.5}
	assert.True(t, f.IntersectsBox([3]float32{0, 0, 0}, extent), "target is visible")
	assert.False(t, f.IntersectsBox([3]float32{0, 0, 20}, extent), "behind the camera")
	assert.False(t, f.IntersectsBox([3]float32{0, 0, -100}, extent), "beyond the far plane")
	assert.False(t, f.IntersectsBox([3]float32{100, 0, 0}, extent), "outside the side planes")
}

func TestCamera_UpdateTracksController(t *testing.T) {
	cc := NewCameraController(WithRadius(10), WithElevation(0))
	c := NewCamera(WithController(cc))
	before := c.ViewProjectionMatrix()

	cc.SetRadius(20)
	assert.Equal(t, before, c.ViewProjectionMatrix(), "matrices only change on Update")

	c.Update()
	assert.NotEqual(t, before, c.ViewProjectionMatrix())
	assert.InDelta(t, 20, c.Position()[2], 1e-4)
}

func TestCamera_ProjectionScale(t *testing.T) {
	c := NewCamera(WithController(NewCameraController()))
	wide := c.ProjectionScale()
	require.Greater(t, wide, float32(0))

	c.SetFov(10 * math32.Pi / 180)
	assert.Greater(t, c.ProjectionScale(), wide, "narrower field of view magnifies")
}

func roundVec(v [3]float32) [3]float32 {
	for i := range v {
		v[i] = math32.Round(v[i]*1000) / 1000
	}
	return v
}
