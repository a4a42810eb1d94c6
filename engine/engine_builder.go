package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/profiler"
	"github.com/Carmen-Shannon/oxy-holo/engine/window"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine. Options may also add
// profiler options, which are applied when the engine creates its profiler.
type EngineBuilderOption func(e *engine, profilerOptions *[]profiler.ProfilerBuilderOption)

// WithProfiling enables or disables periodic stats logging.
//
// Parameters:
//   - enabled: if true, enables profiling
//   - interval: time between reports; 0 keeps the profiler default
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool, interval time.Duration) EngineBuilderOption {
	return func(e *engine, po *[]profiler.ProfilerBuilderOption) {
		e.profilingEnabled.Store(enabled)
		*po = append(*po, profiler.WithInterval(interval))
	}
}

// WithTickRate sets the engine tick rate in ticks per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine, _ *[]profiler.ProfilerBuilderOption) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine, _ *[]profiler.ProfilerBuilderOption) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithWindow makes Run poll the window's events and quit when it closes.
//
// Parameters:
//   - w: an open Window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine, _ *[]profiler.ProfilerBuilderOption) {
		e.window = w
	}
}

// WithView sets the view the render loop culls and selects LODs against. A view with an
// Update method, such as a camera, is updated first.
func WithView(v holo_manager.View) EngineBuilderOption {
	return func(e *engine, _ *[]profiler.ProfilerBuilderOption) {
		e.view = v
	}
}

// WithRenderer brackets every render iteration with a GPU frame.
func WithRenderer(r FrameRenderer) EngineBuilderOption {
	return func(e *engine, _ *[]profiler.ProfilerBuilderOption) {
		e.renderer = r
	}
}

// WithLogger sets the engine's logger. The profiler logs through a named child.
func WithLogger(log *zap.Logger) EngineBuilderOption {
	return func(e *engine, _ *[]profiler.ProfilerBuilderOption) {
		if log != nil {
			e.log = log
		}
	}
}
