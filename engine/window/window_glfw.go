package window

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// ErrNotOpen is returned when closing a window that is not open.
var ErrNotOpen = errors.New("window is not open")

type glfwWindow struct {
	window  *glfw.Window
	running bool
}

// open creates the GLFW window and registers input callbacks.
//
// GLFW reference: https://www.glfw.org/docs/latest/window_guide.html
func (w *engineWindow) open() error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("initialize glfw: %w", err)
	}

	// WebGPU provides its own graphics API, so disable OpenGL context creation.
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("create glfw window: %w", err)
	}
	win.SetSizeLimits(w.minWidth, w.minHeight, glfw.DontCare, glfw.DontCare)

	gw := &glfwWindow{window: win, running: true}
	w.platform = gw

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			gw.running = false
			win.SetShouldClose(true)
			return
		}
		if (action == glfw.Press || action == glfw.Repeat) && w.onKeyDown != nil {
			w.onKeyDown(uint32(key))
		}
	})

	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		if w.onScroll != nil {
			w.onScroll(float32(yoff))
		}
	})

	// Framebuffer size differs from window size on high-DPI displays; surfaces need pixels.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.resized(width, height)
	})

	w.width, w.height = win.GetFramebufferSize()
	return nil
}

func (w *engineWindow) SetTitle(title string) {
	w.title = title
	if w.platform != nil {
		w.platform.window.SetTitle(title)
	}
}

// Reference: https://pkg.go.dev/github.com/cogentcore/webgpu/wgpuglfw#GetSurfaceDescriptor
func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	if w.platform == nil {
		return nil
	}
	return wgpuglfw.GetSurfaceDescriptor(w.platform.window)
}

func (w *engineWindow) IsRunning() bool {
	if w.platform == nil {
		return false
	}
	return w.platform.running && !w.platform.window.ShouldClose()
}

func (w *engineWindow) PollEvents() bool {
	if w.platform == nil {
		return false
	}
	glfw.PollEvents()
	return w.IsRunning()
}

func (w *engineWindow) Close() error {
	if w.platform == nil {
		return ErrNotOpen
	}
	w.platform.running = false
	w.platform.window.Destroy()
	w.platform = nil
	glfw.Terminate()
	runtime.UnlockOSThread()
	w.log.Info("window closed")
	return nil
}
