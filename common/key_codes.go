package common

// Key codes delivered by the window's key callbacks. Printable keys use their ASCII value,
// the rest follow GLFW.
//
// Reference: https://pkg.go.dev/github.com/go-gl/glfw/v3.3/glfw#Key
const (
	KeyW     = 87 // orbit up
	KeyA     = 65 // orbit left
	KeyS     = 83 // orbit down
	KeyD     = 68 // orbit right
	KeyQ     = 81 // zoom out
	KeyE     = 69 // zoom in
	KeyC     = 67 // toggle frustum culling
	KeyI     = 73 // toggle immediate mode
	KeyP     = 80 // toggle editor preview
	KeyL     = 76 // loop every actor
	KeyH     = 72 // toggle hidden on every actor
	KeyF     = 70 // free unused memory
	KeySpace = 32 // play/pause
	KeyEsc   = 256
)
