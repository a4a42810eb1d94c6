package renderer

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
)

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the display refresh rate.
	PresentModeVSync PresentMode = iota
	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	PresentModeUncapped
)

var (
	// ErrFrameInProgress is returned by BeginFrame when the previous frame was not ended.
	ErrFrameInProgress = errors.New("renderer: previous frame not presented")
	// ErrReleased is returned after Release.
	ErrReleased = errors.New("renderer: released")
)

// Renderer owns the webgpu device. It is the GPU uploader behind every holo mesh and, when
// created with a window surface, clears and presents one frame per render loop iteration.
// Buffer writes are queued and reach the GPU with the next submitted frame or Flush.
type Renderer interface {
	upload.Uploader

	// ConfigureSurface sizes the presentation surface. It is a no-op for headless renderers.
	//
	// Parameters:
	//   - width: surface width in pixels
	//   - height: surface height in pixels
	ConfigureSurface(width, height int)

	// BeginFrame acquires the next surface texture and opens a clearing render pass.
	// Headless renderers only open a command encoder.
	//
	// Returns:
	//   - error: ErrFrameInProgress, ErrReleased or a backend error
	BeginFrame() error

	// EndFrame submits the frame's commands and presents the surface texture.
	EndFrame()

	// Flush submits an empty command buffer so that queued buffer writes are executed.
	//
	// Returns:
	//   - error: ErrReleased or a backend error
	Flush() error

	// Headless reports whether the renderer was created without a surface.
	Headless() bool

	// LiveBuffers returns the number of buffers created and not yet released.
	LiveBuffers() int64

	// LiveBytes returns the total size of live buffers.
	LiveBytes() int64

	// Release frees the device and every GPU object it owns. It is safe to call twice.
	Release()
}
