package window

import (
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// Window is the interactive player's output surface and input source.
// All methods must be called from the goroutine that created the window.
type Window interface {
	// SetResizeCallback sets the function called when the framebuffer is resized.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the callback for mouse scroll wheel events.
	//
	// Parameters:
	//   - callback: function receiving scroll delta (positive = up/zoom in, negative = down/zoom out)
	SetScrollCallback(callback func(delta float32))

	// SetKeyDownCallback sets the callback for key press and repeat events.
	//
	// Parameters:
	//   - callback: function receiving the key code, see common.Key*
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetTitle replaces the title bar text.
	SetTitle(title string)

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor for the window, created by the
	// wgpuglfw bridge.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the platform-specific surface descriptor, or nil once closed
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning returns true until the window is closed or escape is pressed.
	IsRunning() bool

	// PollEvents processes pending window events without blocking.
	//
	// Returns:
	//   - bool: false once the window should close
	PollEvents() bool

	// Close destroys the window and releases platform resources.
	//
	// Returns:
	//   - error: ErrNotOpen if the window was already closed
	Close() error

	// Width returns the current framebuffer width in pixels.
	Width() int

	// Height returns the current framebuffer height in pixels.
	Height() int
}

type engineWindow struct {
	title     string
	width     int
	height    int
	minWidth  int
	minHeight int
	log       *zap.Logger

	platform *glfwWindow

	onResize  func(width, height int)
	onScroll  func(delta float32)
	onKeyDown func(keyCode uint32)
}

var _ Window = &engineWindow{}

// NewWindow creates and opens a window. The calling goroutine is locked to its OS thread,
// which must stay the window's thread until Close.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the open window
//   - error: platform initialization failure
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &engineWindow{
		title:     "oxy-holo",
		width:     1280,
		height:    720,
		minWidth:  320,
		minHeight: 200,
		log:       zap.NewNop(),
	}
	for _, opt := range options {
		opt(w)
	}
	runtime.LockOSThread()
	if err := w.open(); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	w.log.Info("window opened", zap.Int("width", w.width), zap.Int("height", w.height))
	return w, nil
}

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *engineWindow) SetScrollCallback(callback func(delta float32)) {
	w.onScroll = callback
}

func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *engineWindow) Width() int {
	return w.width
}

func (w *engineWindow) Height() int {
	return w.height
}

func (w *engineWindow) resized(width, height int) {
	w.width = width
	w.height = height
	w.log.Debug("window resized", zap.Int("width", width), zap.Int("height", height))
	if w.onResize != nil {
		w.onResize(width, height)
	}
}
