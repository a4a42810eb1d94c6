package game_object

import "errors"

var (
	// ErrDestroyed is returned when attaching to an object that was destroyed.
	ErrDestroyed = errors.New("game object destroyed")
	// ErrHasPlayer is returned when the object already owns a player.
	ErrHasPlayer = errors.New("game object already has a player")
)
