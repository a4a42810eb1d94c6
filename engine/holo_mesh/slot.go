package holo_mesh

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
)

// IndexBuffer holds one slot's indices and their GPU buffer.
type IndexBuffer struct {
	count   int
	use32   bool
	storage bool
	data    []byte
	gpu     upload.Buffer
}

// Count returns the number of indices.
func (b *IndexBuffer) Count() int { return b.count }

// Use32Bit reports whether indices are 4 bytes wide.
func (b *IndexBuffer) Use32Bit() bool { return b.use32 }

// Storage reports whether the GPU buffer is also bound for compute writes.
func (b *IndexBuffer) Storage() bool { return b.storage }

// Data returns the CPU copy of the indices.
func (b *IndexBuffer) Data() []byte { return b.data }

// GPU returns the GPU buffer, or nil before the first upload.
func (b *IndexBuffer) GPU() upload.Buffer { return b.gpu }

// VertexBuffers holds one slot's vertex streams and their GPU buffers.
type VertexBuffers struct {
	count int

	positions     []byte
	prevPositions []byte
	tangents      []byte
	colors        []byte
	texCoords     [][]byte

	positionsGPU     upload.Buffer
	prevPositionsGPU upload.Buffer
	tangentsGPU      upload.Buffer
	colorsGPU        upload.Buffer
	texCoordsGPU     []upload.Buffer
}

// Count returns the number of vertices.
func (v *VertexBuffers) Count() int { return v.count }

// TexCoordChannels returns the number of UV channels.
func (v *VertexBuffers) TexCoordChannels() int { return len(v.texCoords) }

// Positions returns the packed float32 xyz positions.
func (v *VertexBuffers) Positions() []byte { return v.positions }

// PrevPositions returns the positions of the previously presented frame, used for motion vectors.
func (v *VertexBuffers) PrevPositions() []byte { return v.prevPositions }

// Tangents returns the packed tangent basis, or nil when the stream is absent.
func (v *VertexBuffers) Tangents() []byte { return v.tangents }

// Colors returns RGBA8 vertex colors, or nil when the stream is absent.
func (v *VertexBuffers) Colors() []byte { return v.colors }

// TexCoords returns one UV channel.
func (v *VertexBuffers) TexCoords(channel int) []byte {
	if channel < 0 || channel >= len(v.texCoords) {
		return nil
	}
	return v.texCoords[channel]
}

// PositionsGPU returns the GPU buffer of the positions stream.
func (v *VertexBuffers) PositionsGPU() upload.Buffer { return v.positionsGPU }

// PrevPositionsGPU returns the GPU buffer of the previous positions stream.
func (v *VertexBuffers) PrevPositionsGPU() upload.Buffer { return v.prevPositionsGPU }

// TangentsGPU returns the GPU buffer of the tangent stream, or nil.
func (v *VertexBuffers) TangentsGPU() upload.Buffer { return v.tangentsGPU }

// ColorsGPU returns the GPU buffer of the color stream, or nil.
func (v *VertexBuffers) ColorsGPU() upload.Buffer { return v.colorsGPU }

// TexCoordsGPU returns the GPU buffer of one UV channel, or nil.
func (v *VertexBuffers) TexCoordsGPU(channel int) upload.Buffer {
	if channel < 0 || channel >= len(v.texCoordsGPU) {
		return nil
	}
	return v.texCoordsGPU[channel]
}

// TextureData is one texture payload for a slot.
type TextureData struct {
	Width         int
	Height        int
	BytesPerPixel int
	Pixels        []byte
}

// Texture is a slot-owned texture and its GPU buffer.
type Texture struct {
	width, height, bpp int
	pixels             []byte
	gpu                upload.Buffer
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.width }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.height }

// Pixels returns the CPU copy of the texels.
func (t *Texture) Pixels() []byte { return t.pixels }

// GPU returns the texel buffer.
func (t *Texture) GPU() upload.Buffer { return t.gpu }

// Slot is one half of a double-buffered mesh. Readers must hold the slot through
// HoloMesh.Read or HoloMesh.AcquireRead; everything else is mutated only by HoloMesh.
type Slot struct {
	mu    *sync.RWMutex
	index int

	Index    IndexBuffer
	Vertices VertexBuffers

	bounds        common.Bounds
	sequenceIndex int
	frameIndex    int
	initialized   bool

	textures map[string]*Texture
}

func newSlot(index int) *Slot {
	return &Slot{
		mu:            &sync.RWMutex{},
		index:         index,
		sequenceIndex: -1,
		frameIndex:    -1,
		textures:      make(map[string]*Texture),
	}
}

// Initialized reports whether the slot has ever received geometry.
func (s *Slot) Initialized() bool { return s.initialized }

// Bounds returns the local-space bounds of the slot's geometry.
func (s *Slot) Bounds() common.Bounds { return s.bounds }

// SequenceIndex returns the sequence the slot's geometry was decoded from, or -1.
func (s *Slot) SequenceIndex() int { return s.sequenceIndex }

// FrameIndex returns the frame the slot's geometry was decoded from, or -1.
func (s *Slot) FrameIndex() int { return s.frameIndex }

// Texture returns a named texture, or nil.
func (s *Slot) Texture(name string) *Texture { return s.textures[name] }

// matches reports whether geometry fits the slot's current allocation.
func (s *Slot) matches(g *Geometry) bool {
	if !s.initialized {
		return false
	}
	v := &s.Vertices
	return v.count == g.VertexCount &&
		s.Index.count == g.IndexCount &&
		s.Index.use32 == g.Use32BitIndices &&
		len(v.texCoords) == len(g.TexCoords) &&
		(len(v.tangents) == 0) == (len(g.Tangents) == 0) &&
		(len(v.colors) == 0) == (len(g.Colors) == 0)
}

// gpuBytes returns the bytes held by the slot's GPU mesh buffers.
func (s *Slot) gpuBytes() int64 {
	var n int64
	for _, b := range s.buffers() {
		n += int64(b.Size())
	}
	return n
}

func (s *Slot) buffers() []upload.Buffer {
	v := &s.Vertices
	all := []upload.Buffer{s.Index.gpu, v.positionsGPU, v.prevPositionsGPU, v.tangentsGPU, v.colorsGPU}
	all = append(all, v.texCoordsGPU...)
	out := all[:0]
	for _, b := range all {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// releaseBuffers frees every GPU mesh buffer of the slot and returns the released byte count.
func (s *Slot) releaseBuffers() int64 {
	n := s.gpuBytes()
	for _, b := range s.buffers() {
		b.Release()
	}
	v := &s.Vertices
	s.Index.gpu = nil
	v.positionsGPU, v.prevPositionsGPU, v.tangentsGPU, v.colorsGPU = nil, nil, nil, nil
	v.texCoordsGPU = nil
	s.initialized = false
	return n
}

// releaseTextures frees every texture of the slot and returns the released byte count.
func (s *Slot) releaseTextures() int64 {
	var n int64
	for name, t := range s.textures {
		if t.gpu != nil {
			n += int64(t.gpu.Size())
			t.gpu.Release()
		}
		delete(s.textures, name)
	}
	return n
}

func (s *Slot) label(base, stream string) string {
	return fmt.Sprintf("%s/slot%d/%s", base, s.index, stream)
}
