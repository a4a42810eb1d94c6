package window

import "go.uber.org/zap"

// WindowBuilderOption is a functional option for configuring an engineWindow.
type WindowBuilderOption func(w *engineWindow)

// WithTitle sets the window title displayed in the title bar.
//
// Parameters:
//   - title: the window title text
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *engineWindow) {
		w.title = title
	}
}

// WithSize sets the requested client area size. The framebuffer may be larger on high-DPI displays.
//
// Parameters:
//   - width: width in pixels
//   - height: height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		if width > 0 && height > 0 {
			w.width = width
			w.height = height
		}
	}
}

// WithMinSize sets the smallest size the window can be resized to.
//
// Parameters:
//   - width: minimum width in pixels
//   - height: minimum height in pixels
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithMinSize(width, height int) WindowBuilderOption {
	return func(w *engineWindow) {
		w.minWidth = width
		w.minHeight = height
	}
}

// WithLogger sets the window's logger.
func WithLogger(log *zap.Logger) WindowBuilderOption {
	return func(w *engineWindow) {
		if log != nil {
			w.log = log
		}
	}
}
