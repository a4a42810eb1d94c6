package holo_player

import (
	"encoding/binary"
	"math"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/decoder"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_mesh"
	"github.com/Carmen-Shannon/oxy-holo/engine/memory_pool"
)

type frameKey struct {
	sequence int
	frame    int
}

// stagedFrame is a decoded frame packed into a pooled block, waiting for the render thread.
type stagedFrame struct {
	key      frameKey
	block    *memory_pool.Block
	geometry holo_mesh.Geometry
	texture  *decoder.TextureFrame
	bones    [][16]float32
}

// stagedSize returns the bytes needed to pack a frame's vertex and index streams.
func stagedSize(f *decoder.Frame) int {
	vc := f.VertexCount()
	n := vc * holo_mesh.PositionStride
	if len(f.Normals) > 0 {
		n += vc * holo_mesh.TangentStride
	}
	if len(f.Colors) > 0 {
		n += vc * holo_mesh.ColorStride
	}
	n += len(f.TexCoords) * vc * holo_mesh.TexCoordStride
	if holo_mesh.NeedsWideIndices(vc) {
		n += 4 * f.IndexCount()
	} else {
		n += 2 * f.IndexCount()
	}
	return n
}

// packFrame writes a frame's streams into dst and returns geometry viewing them.
// dst must hold at least stagedSize(f) bytes.
func packFrame(dst []byte, f *decoder.Frame) holo_mesh.Geometry {
	vc := f.VertexCount()
	g := holo_mesh.Geometry{
		SequenceIndex:   f.SequenceIndex,
		FrameIndex:      f.FrameIndex,
		VertexCount:     vc,
		IndexCount:      f.IndexCount(),
		Use32BitIndices: holo_mesh.NeedsWideIndices(vc),
		Bounds:          common.BoundsFromPoints(f.Positions),
	}

	off := 0
	take := func(n int) []byte {
		s := dst[off : off+n : off+n]
		off += n
		return s
	}

	g.Positions = take(vc * holo_mesh.PositionStride)
	for i, v := range f.Positions[:3*vc] {
		binary.LittleEndian.PutUint32(g.Positions[4*i:], math.Float32bits(v))
	}

	if len(f.Normals) > 0 {
		g.Tangents = take(vc * holo_mesh.TangentStride)
		for i := 0; i < vc; i++ {
			n := [3]float32{f.Normals[3*i], f.Normals[3*i+1], f.Normals[3*i+2]}
			packTangentFrame(g.Tangents[8*i:8*i+8], n)
		}
	}

	if len(f.Colors) > 0 {
		g.Colors = take(vc * holo_mesh.ColorStride)
		copy(g.Colors, f.Colors[:4*vc])
	}

	for _, uv := range f.TexCoords {
		ch := take(vc * holo_mesh.TexCoordStride)
		for i, v := range uv[:2*vc] {
			binary.LittleEndian.PutUint32(ch[4*i:], math.Float32bits(v))
		}
		g.TexCoords = append(g.TexCoords, ch)
	}

	g.Indices = take(g.IndexCount * g.IndexStride())
	if g.Use32BitIndices {
		for i, idx := range f.Indices {
			binary.LittleEndian.PutUint32(g.Indices[4*i:], idx)
		}
	} else {
		for i, idx := range f.Indices {
			binary.LittleEndian.PutUint16(g.Indices[2*i:], uint16(idx))
		}
	}
	return g
}

// packTangentFrame stores a tangent in bytes 0-3 and the normal in bytes 4-7 as signed
// normalized int8 vectors.
func packTangentFrame(dst []byte, n [3]float32) {
	t := [3]float32{-n[1], n[0], 0}
	if l := common.Distance(t, [3]float32{}); l > 1e-6 {
		t = [3]float32{t[0] / l, t[1] / l, 0}
	} else {
		t = [3]float32{1, 0, 0}
	}
	for a := 0; a < 3; a++ {
		dst[a] = byte(snorm8(t[a]))
		dst[4+a] = byte(snorm8(n[a]))
	}
	dst[3] = byte(snorm8(1))
	dst[7] = byte(snorm8(1))
}

func snorm8(v float32) int8 {
	v = min(max(v, -1), 1)
	return int8(math.Round(float64(v) * 127))
}
