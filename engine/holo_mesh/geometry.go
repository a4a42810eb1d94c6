package holo_mesh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-holo/common"
)

// Per-vertex strides of the streams held by a slot.
const (
	PositionStride = 12 // float32 x, y, z
	TangentStride  = 8  // packed tangent-x and tangent-z, 4 x int8 each
	ColorStride    = 4  // RGBA8
	TexCoordStride = 8  // float32 u, v
)

// MaxTexCoordChannels is the number of UV channels a slot can carry.
const MaxTexCoordChannels = 4

// ErrInvalidGeometry is returned when geometry streams disagree with their declared counts.
var ErrInvalidGeometry = errors.New("holo mesh: invalid geometry")

// Geometry is one decoded frame ready for upload. Stream slices are byte views, typically into
// a pooled staging block, and are copied by Update; the caller may reuse them afterwards.
type Geometry struct {
	SequenceIndex int
	FrameIndex    int

	VertexCount int
	IndexCount  int

	// Use32BitIndices selects 4-byte indices. Required when VertexCount exceeds 65535.
	Use32BitIndices bool

	// Positions is required; the other vertex streams are optional and may be empty.
	Positions []byte
	Tangents  []byte
	Colors    []byte
	TexCoords [][]byte
	Indices   []byte

	Bounds common.Bounds
}

// NeedsWideIndices reports whether a vertex count cannot be addressed by 16-bit indices.
func NeedsWideIndices(vertexCount int) bool {
	return vertexCount > math.MaxUint16
}

// IndexStride returns the byte width of the geometry's indices.
func (g *Geometry) IndexStride() int {
	if g.Use32BitIndices {
		return 4
	}
	return 2
}

// ByteSize returns the number of bytes the geometry uploads.
func (g *Geometry) ByteSize() int {
	n := len(g.Positions) + len(g.Tangents) + len(g.Colors) + len(g.Indices)
	for _, uv := range g.TexCoords {
		n += len(uv)
	}
	return n
}

// Validate checks stream lengths against the declared counts and that every index addresses
// an existing vertex.
//
// Returns:
//   - error: ErrInvalidGeometry wrapped with the failing stream
func (g *Geometry) Validate() error {
	if g.VertexCount <= 0 {
		return fmt.Errorf("vertex count %d: %w", g.VertexCount, ErrInvalidGeometry)
	}
	if g.IndexCount < 0 {
		return fmt.Errorf("index count %d: %w", g.IndexCount, ErrInvalidGeometry)
	}
	if NeedsWideIndices(g.VertexCount) && !g.Use32BitIndices {
		return fmt.Errorf("%d vertices need 32-bit indices: %w", g.VertexCount, ErrInvalidGeometry)
	}
	if err := checkStream("positions", g.Positions, g.VertexCount*PositionStride, false); err != nil {
		return err
	}
	if err := checkStream("tangents", g.Tangents, g.VertexCount*TangentStride, true); err != nil {
		return err
	}
	if err := checkStream("colors", g.Colors, g.VertexCount*ColorStride, true); err != nil {
		return err
	}
	if len(g.TexCoords) > MaxTexCoordChannels {
		return fmt.Errorf("%d texcoord channels: %w", len(g.TexCoords), ErrInvalidGeometry)
	}
	for i, uv := range g.TexCoords {
		if err := checkStream(fmt.Sprintf("texcoord%d", i), uv, g.VertexCount*TexCoordStride, false); err != nil {
			return err
		}
	}
	if err := checkStream("indices", g.Indices, g.IndexCount*g.IndexStride(), false); err != nil {
		return err
	}
	return g.checkIndexRange()
}

func (g *Geometry) checkIndexRange() error {
	limit := uint32(g.VertexCount)
	if g.Use32BitIndices {
		for i := 0; i < g.IndexCount; i++ {
			if v := binary.LittleEndian.Uint32(g.Indices[i*4:]); v >= limit {
				return fmt.Errorf("index %d = %d of %d vertices: %w", i, v, g.VertexCount, ErrInvalidGeometry)
			}
		}
		return nil
	}
	for i := 0; i < g.IndexCount; i++ {
		if v := uint32(binary.LittleEndian.Uint16(g.Indices[i*2:])); v >= limit {
			return fmt.Errorf("index %d = %d of %d vertices: %w", i, v, g.VertexCount, ErrInvalidGeometry)
		}
	}
	return nil
}

func checkStream(name string, data []byte, want int, optional bool) error {
	if optional && len(data) == 0 {
		return nil
	}
	if len(data) != want {
		return fmt.Errorf("%s has %d bytes, want %d: %w", name, len(data), want, ErrInvalidGeometry)
	}
	return nil
}
