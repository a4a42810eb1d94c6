package holo_player

import (
	"github.com/Carmen-Shannon/oxy-holo/common"
)

// LODOptions control how a player picks its level of detail.
type LODOptions struct {
	// ScreenSizes holds, per LOD, the screen-size fraction at or above which that LOD is used.
	// Entries should decrease with LOD.
	ScreenSizes []float32
	// MinimumLOD is the most detailed LOD the player may select.
	MinimumLOD int
	// ForceLOD, when >= 0, bypasses the screen-size test.
	ForceLOD int
}

// DefaultLODOptions returns three LODs at full, half and a tenth of the screen.
func DefaultLODOptions() LODOptions {
	return LODOptions{
		ScreenSizes: []float32{1.0, 0.5, 0.1},
		ForceLOD:    -1,
	}
}

func (o LODOptions) normalized() LODOptions {
	if len(o.ScreenSizes) == 0 {
		o.ScreenSizes = DefaultLODOptions().ScreenSizes
	}
	o.ScreenSizes = append([]float32(nil), o.ScreenSizes...)
	o.MinimumLOD = min(max(o.MinimumLOD, 0), len(o.ScreenSizes)-1)
	return o
}

// selectLOD walks the thresholds from the coarsest LOD and returns the first whose half
// screen size exceeds the projected radius.
func (o LODOptions) selectLOD(eye, center [3]float32, radius, projectionScale float32) int {
	last := len(o.ScreenSizes) - 1
	if o.ForceLOD >= 0 {
		return min(max(o.ForceLOD, o.MinimumLOD), last)
	}

	dist := max(common.Distance(eye, center), 1)
	screenRadius := projectionScale * radius / dist
	screenRadiusSq := screenRadius * screenRadius

	for lod := last; lod >= 0; lod-- {
		half := o.ScreenSizes[lod] * 0.5
		if half*half > screenRadiusSq {
			return max(o.MinimumLOD, lod)
		}
	}
	return o.MinimumLOD
}
