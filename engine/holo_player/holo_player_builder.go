package holo_player

import (
	"go.uber.org/zap"
)

// PlayerBuilderOption is a functional option for configuring a Player.
type PlayerBuilderOption func(*player)

// WithName sets the player's name, used for mesh labels and logs.
//
// Parameters:
//   - name: the player name
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithName(name string) PlayerBuilderOption {
	return func(p *player) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets the player's logger.
//
// Parameters:
//   - log: the zap logger
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithLogger(log *zap.Logger) PlayerBuilderOption {
	return func(p *player) {
		if log != nil {
			p.log = log
		}
	}
}

// WithLooping makes playback wrap to the first frame instead of stopping at the last.
//
// Parameters:
//   - loop: whether to loop
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithLooping(loop bool) PlayerBuilderOption {
	return func(p *player) {
		p.looping = loop
	}
}

// WithAutoPlay starts playback as soon as the player is attached.
//
// Parameters:
//   - autoPlay: whether to play on attach
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithAutoPlay(autoPlay bool) PlayerBuilderOption {
	return func(p *player) {
		p.autoPlay = autoPlay
	}
}

// WithFrameRate overrides the decoder's authored frame rate. Values <= 0 keep the authored rate.
//
// Parameters:
//   - fps: playback frames per second
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithFrameRate(fps float64) PlayerBuilderOption {
	return func(p *player) {
		if fps > 0 {
			p.frameRate = fps
		}
	}
}

// WithSequence selects the sequence played from the start.
//
// Parameters:
//   - sequenceIndex: the sequence index
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithSequence(sequenceIndex int) PlayerBuilderOption {
	return func(p *player) {
		if sequenceIndex >= 0 {
			p.sequence = sequenceIndex
		}
	}
}

// WithPrefetch sets how many frames past the playhead are decoded ahead. Values < 0 keep the default of 2.
//
// Parameters:
//   - frames: prefetch depth
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithPrefetch(frames int) PlayerBuilderOption {
	return func(p *player) {
		if frames >= 0 {
			p.prefetch = frames
		}
	}
}

// WithLODOptions sets the screen-size thresholds and LOD overrides.
//
// Parameters:
//   - opts: the LOD options
//
// Returns:
//   - PlayerBuilderOption: option function to apply
func WithLODOptions(opts LODOptions) PlayerBuilderOption {
	return func(p *player) {
		p.lod = opts.normalized()
	}
}
