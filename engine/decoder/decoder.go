package decoder

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrSequenceOutOfRange is returned for a sequence index the source does not have.
	ErrSequenceOutOfRange = errors.New("decoder: sequence out of range")
	// ErrFrameOutOfRange is returned for a frame index past the end of its sequence.
	ErrFrameOutOfRange = errors.New("decoder: frame out of range")
)

// TextureFrame is an RGBA8 texture decoded alongside a frame.
type TextureFrame struct {
	Width  int
	Height int
	Pixels []byte
}

// Frame is one decoded frame of a volumetric sequence.
type Frame struct {
	SequenceIndex int
	FrameIndex    int

	// Positions and Normals are packed x, y, z triples.
	Positions []float32
	Normals   []float32
	// Colors holds one RGBA8 quadruple per vertex.
	Colors []uint8
	// TexCoords holds one packed u, v channel per slice.
	TexCoords [][]float32
	Indices   []uint32

	// BoneTransforms are column-major joint matrices for skinned sequences.
	BoneTransforms [][16]float32
	Texture        *TextureFrame
}

// VertexCount returns the number of complete positions in the frame.
func (f *Frame) VertexCount() int {
	return len(f.Positions) / 3
}

// IndexCount returns the number of indices in the frame.
func (f *Frame) IndexCount() int {
	return len(f.Indices)
}

// ByteSize returns the decoded size of the frame's streams in bytes.
func (f *Frame) ByteSize() int {
	n := 4*len(f.Positions) + 4*len(f.Normals) + len(f.Colors) + 4*len(f.Indices) + 64*len(f.BoneTransforms)
	for _, uv := range f.TexCoords {
		n += 4 * len(uv)
	}
	if f.Texture != nil {
		n += len(f.Texture.Pixels)
	}
	return n
}

// Repair brings every stream in line with the vertex count after a short read. Vertex streams
// that are too short are dropped, trailing partial triangles and out-of-range indices are
// discarded, and a warning is logged for each fix. The frame is usable afterwards even when
// it has lost detail.
//
// Parameters:
//   - log: logger receiving one warning per repaired stream
//
// Returns:
//   - bool: true when anything had to be repaired
func (f *Frame) Repair(log *zap.Logger) bool {
	repaired := false
	warn := func(stream string, have, want int) {
		repaired = true
		log.Warn("truncated frame data",
			zap.Int("sequence", f.SequenceIndex),
			zap.Int("frame", f.FrameIndex),
			zap.String("stream", stream),
			zap.Int("have", have),
			zap.Int("want", want),
		)
	}

	if rem := len(f.Positions) % 3; rem != 0 {
		warn("positions", len(f.Positions), len(f.Positions)-rem)
		f.Positions = f.Positions[:len(f.Positions)-rem]
	}
	vc := f.VertexCount()

	if len(f.Normals) != 0 && len(f.Normals) < 3*vc {
		warn("normals", len(f.Normals), 3*vc)
		f.Normals = nil
	} else if len(f.Normals) > 3*vc {
		f.Normals = f.Normals[:3*vc]
	}
	if len(f.Colors) != 0 && len(f.Colors) < 4*vc {
		warn("colors", len(f.Colors), 4*vc)
		f.Colors = nil
	} else if len(f.Colors) > 4*vc {
		f.Colors = f.Colors[:4*vc]
	}

	uvs := f.TexCoords[:0]
	for _, uv := range f.TexCoords {
		if len(uv) < 2*vc {
			warn("texcoords", len(uv), 2*vc)
			continue
		}
		uvs = append(uvs, uv[:2*vc])
	}
	f.TexCoords = uvs

	if rem := len(f.Indices) % 3; rem != 0 {
		warn("indices", len(f.Indices), len(f.Indices)-rem)
		f.Indices = f.Indices[:len(f.Indices)-rem]
	}
	kept := f.Indices[:0]
	dropped := 0
	for i := 0; i+2 < len(f.Indices); i += 3 {
		a, b, c := f.Indices[i], f.Indices[i+1], f.Indices[i+2]
		if int(a) >= vc || int(b) >= vc || int(c) >= vc {
			dropped++
			continue
		}
		kept = append(kept, a, b, c)
	}
	if dropped > 0 {
		warn("indices", len(f.Indices), len(kept))
	}
	f.Indices = kept

	if t := f.Texture; t != nil && len(t.Pixels) < 4*t.Width*t.Height {
		warn("texture", len(t.Pixels), 4*t.Width*t.Height)
		f.Texture = nil
	}
	return repaired
}

// Decoder produces ready-to-upload frames of one volumetric source. Decode may be called
// concurrently from worker goroutines.
type Decoder interface {
	// Decode reads and decodes one frame.
	//
	// Parameters:
	//   - ctx: cancels slow reads
	//   - sequenceIndex: sequence to read from
	//   - frameIndex: frame within the sequence
	//
	// Returns:
	//   - *Frame: the decoded frame, owned by the caller
	//   - error: ErrSequenceOutOfRange, ErrFrameOutOfRange or a read error
	Decode(ctx context.Context, sequenceIndex, frameIndex int) (*Frame, error)

	// SequenceCount returns the number of sequences in the source.
	SequenceCount() int

	// FrameCount returns the number of frames in a sequence, or 0 when it does not exist.
	FrameCount(sequenceIndex int) int

	// FrameRate returns the authored playback rate in frames per second.
	FrameRate() float64
}
