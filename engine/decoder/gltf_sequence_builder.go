package decoder

import "go.uber.org/zap"

// GLTFBuilderOption is a functional option for configuring a glTF sequence decoder.
type GLTFBuilderOption func(*gltfSequenceDecoder)

// WithGLTFFrameRate sets the playback rate reported by FrameRate. glTF carries no frame rate,
// so the exporter's rate has to be supplied. Values <= 0 keep the default of 30.
//
// Parameters:
//   - fps: frames per second
//
// Returns:
//   - GLTFBuilderOption: option function to apply
func WithGLTFFrameRate(fps float64) GLTFBuilderOption {
	return func(d *gltfSequenceDecoder) {
		if fps > 0 {
			d.frameRate = fps
		}
	}
}

// WithGLTFTextureSize resamples base color textures to size x size. 0 keeps the source size.
//
// Parameters:
//   - size: texture edge in texels
//
// Returns:
//   - GLTFBuilderOption: option function to apply
func WithGLTFTextureSize(size int) GLTFBuilderOption {
	return func(d *gltfSequenceDecoder) {
		if size >= 0 {
			d.textureSize = size
		}
	}
}

// WithGLTFLogger sets the logger for repair and texture warnings.
func WithGLTFLogger(log *zap.Logger) GLTFBuilderOption {
	return func(d *gltfSequenceDecoder) {
		if log != nil {
			d.log = log
		}
	}
}
