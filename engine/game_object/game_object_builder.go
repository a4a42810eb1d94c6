package game_object

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the ID of the GameObject.
//
// Parameters:
//   - id: unique identifier for the GameObject
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the ID
func WithID(id uint64) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.id = id
	}
}

// WithName sets the name reported in manager logs and stats.
//
// Parameters:
//   - name: display name
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the name
func WithName(name string) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.name = name
	}
}

// WithPosition sets the initial world position.
//
// Parameters:
//   - x, y, z: position components
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the position
func WithPosition(x, y, z float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.position = [3]float32{x, y, z}
	}
}

// WithScale sets the initial scale.
//
// Parameters:
//   - sx, sy, sz: scale factors
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the scale
func WithScale(sx, sy, sz float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.scale = [3]float32{sx, sy, sz}
	}
}

// WithHidden sets the initial hidden state.
//
// Parameters:
//   - hidden: true to start hidden
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the hidden flag
func WithHidden(hidden bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.hidden.Store(hidden)
	}
}

// WithEditor marks the object as editor-only. Its player is registered as an editor instance
// and is dropped from scheduling during play sessions.
//
// Parameters:
//   - editor: true for editor-only objects
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the editor flag
func WithEditor(editor bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.editor = editor
	}
}
