package holo_manager

import (
	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/google/uuid"
)

// Handle identifies a registered instance. It is the only reference the manager hands out,
// so an instance can be unregistered while requests naming it are still queued.
type Handle = uuid.UUID

// View is the camera the manager culls and selects LODs against.
type View interface {
	// Position returns the world-space eye position.
	Position() [3]float32
	// Frustum returns the world-space view frustum.
	Frustum() common.Frustum
	// ProjectionScale returns the projection's screen-space scale factor.
	ProjectionScale() float32
}

// Owner is the scene actor a component is attached to. The manager holds it weakly and asks
// Valid before every use.
type Owner interface {
	// Name identifies the owner in logs and stats.
	Name() string
	// Position returns the owner's world-space position.
	Position() [3]float32
	// Hidden reports whether the owner is hidden from rendering.
	Hidden() bool
	// Valid reports whether the owner is still alive.
	Valid() bool
}

// Component is a playback instance driven by the manager. The render-thread methods are only
// called from BeginFrame and EndFrame; DoThreadedWork runs on a worker goroutine.
// Implementations must not call Unregister from inside these callbacks.
type Component interface {
	// UpdateRenderThread uploads the requested frame into the write slot and swaps.
	// Returning an error defers the request to the next frame.
	UpdateRenderThread(req UpdateRequest) error

	// EndFrameRenderThread runs once for every request completed this frame, after all updates.
	EndFrameRenderThread(req UpdateRequest)

	// RequestCulled is called instead of an update when the instance is culled.
	RequestCulled(req UpdateRequest)

	// DoThreadedWork decodes a frame off the render path.
	DoThreadedWork(sequenceIndex, frameIndex int) error

	// ComputeLOD selects the detail level for the given view. 0 is the highest detail.
	ComputeLOD(view View) int

	// Bounds returns the local-space bounds of the current frame.
	Bounds() common.Bounds

	// FreeUnusedMemory releases cached frames and staging memory.
	FreeUnusedMemory()
}

// UpdateRequest asks for one frame of one sequence to be presented by an instance.
type UpdateRequest struct {
	Handle        Handle
	SequenceIndex int
	FrameIndex    int

	// RequestedFrameNumber is the manager frame number when the request was enqueued.
	RequestedFrameNumber uint32

	order uint64
}
