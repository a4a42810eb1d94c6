package renderer

import (
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*wgpuRenderer)

// WithSurfaceDescriptor makes the renderer present to a window surface.
//
// Parameters:
//   - descriptor: surface descriptor from the window; nil keeps the renderer headless
//
// Returns:
//   - RendererBuilderOption: a function that applies the surface option to a renderer
func WithSurfaceDescriptor(descriptor *wgpu.SurfaceDescriptor) RendererBuilderOption {
	return func(r *wgpuRenderer) {
		r.surfaceDescriptor = descriptor
	}
}

// WithForceFallbackAdapter requests the software adapter.
func WithForceFallbackAdapter(force bool) RendererBuilderOption {
	return func(r *wgpuRenderer) {
		r.forceFallbackAdapter = force
	}
}

// WithPresentMode sets the surface present mode which controls how frames are delivered to the display.
//
// Parameters:
//   - mode: the PresentMode to use (VSync or Uncapped)
//
// Returns:
//   - RendererBuilderOption: a function that applies the present mode option to a renderer
func WithPresentMode(mode PresentMode) RendererBuilderOption {
	return func(r *wgpuRenderer) {
		r.presentMode = mode
	}
}

// WithClearColor sets the color each frame is cleared to.
func WithClearColor(red, green, blue float64) RendererBuilderOption {
	return func(r *wgpuRenderer) {
		r.clearColor = wgpu.Color{R: red, G: green, B: blue, A: 1.0}
	}
}

// WithLogger sets the renderer's logger.
func WithLogger(log *zap.Logger) RendererBuilderOption {
	return func(r *wgpuRenderer) {
		if log != nil {
			r.log = log
		}
	}
}
