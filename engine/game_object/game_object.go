package game_object

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_player"
)

type gameObject struct {
	id        uint64
	name      string
	editor    bool
	hidden    atomic.Bool
	destroyed atomic.Bool

	mu       sync.RWMutex
	position [3]float32
	scale    [3]float32
	player   holo_player.Player
}

// GameObject is a stage actor. It owns at most one holo player and acts as the player's
// owner in the holo manager: its position places the player's bounds in the world, Hidden
// culls it, and Destroy invalidates it.
type GameObject interface {
	holo_manager.Owner

	// ID returns the object's unique identifier.
	//
	// Returns:
	//   - uint64: the object ID
	ID() uint64

	// Editor reports whether the object only exists in editor preview.
	Editor() bool

	// Scale returns the object's scale.
	//
	// Returns:
	//   - sx, sy, sz: scale components
	Scale() (sx, sy, sz float32)

	// SetPosition moves the object.
	//
	// Parameters:
	//   - x, y, z: new position components
	SetPosition(x, y, z float32)

	// SetScale sets the object's scale.
	//
	// Parameters:
	//   - sx, sy, sz: new scale factors
	SetScale(sx, sy, sz float32)

	// SetHidden hides or shows the object. Hidden objects are culled by the manager.
	//
	// Parameters:
	//   - hidden: true to hide
	SetHidden(hidden bool)

	// Player returns the attached holo player, or nil if none is set.
	Player() holo_player.Player

	// AttachPlayer registers the player with the manager using this object as its owner.
	// Editor objects are registered as editor instances.
	//
	// Parameters:
	//   - p: the player to attach
	//
	// Returns:
	//   - error: ErrDestroyed, ErrHasPlayer, or the player's attach error
	AttachPlayer(p holo_player.Player) error

	// Destroy detaches the player and marks the object invalid. It is safe to call twice.
	Destroy()
}

var _ GameObject = &gameObject{}

// NewGameObject creates a new GameObject configured with the given options.
//
// Parameters:
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the newly created object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	obj := &gameObject{
		scale: [3]float32{1, 1, 1},
	}
	for _, option := range options {
		option(obj)
	}
	return obj
}

func (g *gameObject) ID() uint64 {
	return g.id
}

func (g *gameObject) Name() string {
	return g.name
}

func (g *gameObject) Editor() bool {
	return g.editor
}

func (g *gameObject) Position() [3]float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.position
}

func (g *gameObject) Scale() (sx, sy, sz float32) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.scale[0], g.scale[1], g.scale[2]
}

func (g *gameObject) Hidden() bool {
	return g.hidden.Load()
}

func (g *gameObject) Valid() bool {
	return !g.destroyed.Load()
}

func (g *gameObject) SetPosition(x, y, z float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.position = [3]float32{x, y, z}
}

func (g *gameObject) SetScale(sx, sy, sz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scale = [3]float32{sx, sy, sz}
}

func (g *gameObject) SetHidden(hidden bool) {
	g.hidden.Store(hidden)
}

func (g *gameObject) Player() holo_player.Player {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.player
}

func (g *gameObject) AttachPlayer(p holo_player.Player) error {
	if !g.Valid() {
		return ErrDestroyed
	}

	g.mu.Lock()
	if g.player != nil {
		g.mu.Unlock()
		return ErrHasPlayer
	}
	g.player = p
	g.mu.Unlock()

	var opts []holo_manager.RegisterOption
	if g.editor {
		opts = append(opts, holo_manager.AsEditorInstance())
	}
	if err := p.Attach(g, opts...); err != nil {
		g.mu.Lock()
		g.player = nil
		g.mu.Unlock()
		return err
	}
	return nil
}

func (g *gameObject) Destroy() {
	if g.destroyed.Swap(true) {
		return
	}
	g.mu.Lock()
	p := g.player
	g.player = nil
	g.mu.Unlock()

	if p != nil {
		p.Detach()
	}
}
