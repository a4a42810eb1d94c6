package holo_mesh

// HoloMeshBuilderOption is a functional option for configuring a HoloMesh.
type HoloMeshBuilderOption func(*holoMesh)

// WithLabel sets the prefix of every GPU buffer label.
//
// Parameters:
//   - label: buffer label prefix
//
// Returns:
//   - HoloMeshBuilderOption: option function to apply
func WithLabel(label string) HoloMeshBuilderOption {
	return func(h *holoMesh) {
		h.label = label
	}
}

// WithResourceTracker routes mesh, texture and upload byte counts to a tracker.
//
// Parameters:
//   - tracker: the receiver of byte counts
//
// Returns:
//   - HoloMeshBuilderOption: option function to apply
func WithResourceTracker(tracker ResourceTracker) HoloMeshBuilderOption {
	return func(h *holoMesh) {
		if tracker != nil {
			h.tracker = tracker
		}
	}
}

// WithStorageIndices additionally binds index buffers for compute writes.
//
// Parameters:
//   - enabled: true to add storage usage
//
// Returns:
//   - HoloMeshBuilderOption: option function to apply
func WithStorageIndices(enabled bool) HoloMeshBuilderOption {
	return func(h *holoMesh) {
		h.storageIndices = enabled
	}
}

// WithMaterial sets the double-buffered material swapped alongside the mesh.
//
// Parameters:
//   - m: the material
//
// Returns:
//   - HoloMeshBuilderOption: option function to apply
func WithMaterial(m *Material) HoloMeshBuilderOption {
	return func(h *holoMesh) {
		if m != nil {
			h.material = m
		}
	}
}
