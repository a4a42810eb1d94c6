package decoder

import (
	"time"

	"go.uber.org/zap"
)

// ProceduralBuilderOption is a functional option for configuring a procedural decoder.
type ProceduralBuilderOption func(*proceduralDecoder)

// WithGridSize sets the quad resolution of sequence 0. Each later sequence adds GridStep quads
// per side, so sequences differ in vertex count. Values <= 0 keep the default of 16.
//
// Parameters:
//   - quads: quads per side
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithGridSize(quads int) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if quads > 0 {
			d.gridSize = quads
		}
	}
}

// WithGridStep sets how many quads per side each sequence adds to the previous one.
//
// Parameters:
//   - quads: additional quads per side and sequence
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithGridStep(quads int) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if quads >= 0 {
			d.gridStep = quads
		}
	}
}

// WithSequences sets the number of sequences. Values <= 0 keep the default of 1.
//
// Parameters:
//   - n: sequence count
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithSequences(n int) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if n > 0 {
			d.sequences = n
		}
	}
}

// WithFrameCount sets the number of frames per sequence. Values <= 0 keep the default of 60.
//
// Parameters:
//   - n: frames per sequence
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithFrameCount(n int) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if n > 0 {
			d.frameCount = n
		}
	}
}

// WithFrameRate sets the authored frame rate. Values <= 0 keep the default of 30.
//
// Parameters:
//   - fps: frames per second
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithFrameRate(fps float64) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if fps > 0 {
			d.frameRate = fps
		}
	}
}

// WithTextureSize makes every frame carry a square RGBA texture of the given size. 0 disables it.
//
// Parameters:
//   - size: texture width and height in texels
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithTextureSize(size int) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if size >= 0 {
			d.textureSize = size
		}
	}
}

// WithBones makes every frame carry n joint matrices riding the ripple. 0 disables them.
//
// Parameters:
//   - n: joints per frame
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithBones(n int) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if n >= 0 {
			d.bones = n
		}
	}
}

// WithReadLatency delays every Decode to model storage reads.
//
// Parameters:
//   - latency: time spent per decode
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithReadLatency(latency time.Duration) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		d.latency = latency
	}
}

// WithLogger sets the logger used for repair warnings.
//
// Parameters:
//   - log: the zap logger
//
// Returns:
//   - ProceduralBuilderOption: option function to apply
func WithLogger(log *zap.Logger) ProceduralBuilderOption {
	return func(d *proceduralDecoder) {
		if log != nil {
			d.log = log
		}
	}
}
