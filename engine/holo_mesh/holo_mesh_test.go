package holo_mesh

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float32Bytes(v []float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// makeGeometry builds a triangle fan whose positions all hold the value of frame.
func makeGeometry(vertexCount, frame int) *Geometry {
	positions := make([]float32, vertexCount*3)
	for i := range positions {
		positions[i] = float32(frame)
	}
	wide := NeedsWideIndices(vertexCount)
	var indices []byte
	count := 0
	for i := 1; i+1 < vertexCount; i++ {
		for _, v := range []int{0, i, i + 1} {
			if wide {
				indices = binary.LittleEndian.AppendUint32(indices, uint32(v))
			} else {
				indices = binary.LittleEndian.AppendUint16(indices, uint16(v))
			}
			count++
		}
	}
	return &Geometry{
		FrameIndex:      frame,
		VertexCount:     vertexCount,
		IndexCount:      count,
		Use32BitIndices: wide,
		Positions:       float32Bytes(positions),
		Colors:          make([]byte, vertexCount*ColorStride),
		TexCoords:       [][]byte{make([]byte, vertexCount*TexCoordStride)},
		Indices:         indices,
	}
}

type countingTracker struct {
	mesh, texture, uploaded atomic.Int64
}

func (c *countingTracker) AddMeshBytes(n int64)    { c.mesh.Add(n) }
func (c *countingTracker) AddTextureBytes(n int64) { c.texture.Add(n) }
func (c *countingTracker) AddUploadBytes(n int64)  { c.uploaded.Add(n) }

type failingUploader struct {
	*upload.HostUploader
	failWrites atomic.Bool
}

func (f *failingUploader) WriteBuffer(buf upload.Buffer, offset uint64, data []byte) error {
	if f.failWrites.Load() {
		return errors.New("device lost")
	}
	return f.HostUploader.WriteBuffer(buf, offset, data)
}

func TestUpdateWritesOnlyTheWriteSlot(t *testing.T) {
	h := NewHoloMesh(upload.NewHostUploader())
	assert.Equal(t, 0, h.ReadIndex())
	assert.Equal(t, 1, h.WriteIndex())

	_, err := h.Update(makeGeometry(4, 1))
	require.NoError(t, err)

	h.Read(func(s *Slot) {
		assert.False(t, s.Initialized(), "read slot untouched until swap")
	})

	require.NoError(t, h.Swap())
	assert.Equal(t, 1, h.ReadIndex())
	h.Read(func(s *Slot) {
		assert.True(t, s.Initialized())
		assert.Equal(t, 1, s.FrameIndex())
		assert.Equal(t, 4, s.Vertices.Count())
		assert.Equal(t, 6, s.Index.Count())
		assert.False(t, s.Index.Use32Bit())
	})
}

func TestSwapRequiresCompletedWrite(t *testing.T) {
	h := NewHoloMesh(upload.NewHostUploader())

	assert.ErrorIs(t, h.Swap(), ErrNoPendingWrite)

	_, err := h.Update(makeGeometry(3, 1))
	require.NoError(t, err)
	require.NoError(t, h.Swap())
	assert.ErrorIs(t, h.Swap(), ErrNoPendingWrite)
}

func TestCheapPathReusesBuffers(t *testing.T) {
	u := upload.NewHostUploader()
	h := NewHoloMesh(u)

	// Fill both slots.
	for frame := 1; frame <= 2; frame++ {
		res, err := h.Update(makeGeometry(10, frame))
		require.NoError(t, err)
		assert.True(t, res.Reallocated)
		require.NoError(t, h.Swap())
	}
	created := u.CreatedBuffers()

	res, err := h.Update(makeGeometry(10, 3))
	require.NoError(t, err)
	assert.False(t, res.Reallocated)
	assert.Equal(t, created, u.CreatedBuffers())
	assert.Greater(t, res.UploadedBytes, 0)
}

func TestCountsComparedAgainstWriteSlot(t *testing.T) {
	u := upload.NewHostUploader()
	h := NewHoloMesh(u)

	_, err := h.Update(makeGeometry(10, 1))
	require.NoError(t, err)
	require.NoError(t, h.Swap())

	// The write slot is still empty even though the read slot has 10 vertices.
	res, err := h.Update(makeGeometry(10, 2))
	require.NoError(t, err)
	assert.True(t, res.Reallocated)
	require.NoError(t, h.Swap())

	// Write slot now holds 10 vertices from frame 1; 20 vertices forces a rebuild.
	liveBefore := u.LiveBuffers()
	res, err = h.Update(makeGeometry(20, 3))
	require.NoError(t, err)
	assert.True(t, res.Reallocated)
	assert.Equal(t, liveBefore, u.LiveBuffers(), "old buffers released before new ones are created")
	require.NoError(t, h.Swap())

	h.Read(func(s *Slot) {
		assert.Equal(t, 20, s.Vertices.Count())
		assert.Equal(t, uint64(20*PositionStride), s.Vertices.PositionsGPU().Size())
		assert.Equal(t, u.Contents(s.Vertices.PositionsGPU())[:PositionStride*20], s.Vertices.Positions())
	})
}

func TestWideIndicesChosenByVertexCount(t *testing.T) {
	h := NewHoloMesh(upload.NewHostUploader())

	g := makeGeometry(math.MaxUint16+2, 1)
	require.True(t, g.Use32BitIndices)
	_, err := h.Update(g)
	require.NoError(t, err)
	require.NoError(t, h.Swap())
	h.Read(func(s *Slot) {
		assert.True(t, s.Index.Use32Bit())
	})

	narrow := makeGeometry(math.MaxUint16+2, 1)
	narrow.Use32BitIndices = false
	_, err = h.Update(narrow)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestPrevPositionsFollowReadSlot(t *testing.T) {
	h := NewHoloMesh(upload.NewHostUploader())

	for frame := 1; frame <= 3; frame++ {
		_, err := h.Update(makeGeometry(5, frame))
		require.NoError(t, err)
		require.NoError(t, h.Swap())
	}

	h.Read(func(s *Slot) {
		pos := math.Float32frombits(binary.LittleEndian.Uint32(s.Vertices.Positions()))
		prev := math.Float32frombits(binary.LittleEndian.Uint32(s.Vertices.PrevPositions()))
		assert.Equal(t, float32(3), pos)
		assert.Equal(t, float32(2), prev)
	})
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	g := makeGeometry(4, 1)
	g.Positions = g.Positions[:10]
	assert.ErrorIs(t, g.Validate(), ErrInvalidGeometry)

	g = makeGeometry(4, 1)
	binary.LittleEndian.PutUint16(g.Indices, 9)
	assert.ErrorIs(t, g.Validate(), ErrInvalidGeometry)

	g = makeGeometry(4, 1)
	g.Colors = []byte{1}
	assert.ErrorIs(t, g.Validate(), ErrInvalidGeometry)

	assert.ErrorIs(t, (&Geometry{}).Validate(), ErrInvalidGeometry)
}

func TestFailedUploadKeepsReadSlot(t *testing.T) {
	u := &failingUploader{HostUploader: upload.NewHostUploader()}
	h := NewHoloMesh(u)

	_, err := h.Update(makeGeometry(6, 1))
	require.NoError(t, err)
	require.NoError(t, h.Swap())

	u.failWrites.Store(true)
	_, err = h.Update(makeGeometry(6, 2))
	assert.Error(t, err)
	assert.ErrorIs(t, h.Swap(), ErrNoPendingWrite)

	h.Read(func(s *Slot) {
		assert.Equal(t, 1, s.FrameIndex())
	})

	u.failWrites.Store(false)
	_, err = h.Update(makeGeometry(6, 3))
	require.NoError(t, err)
	require.NoError(t, h.Swap())
	h.Read(func(s *Slot) {
		assert.Equal(t, 3, s.FrameIndex())
	})
}

func TestTrackerAccounting(t *testing.T) {
	u := upload.NewHostUploader()
	tr := &countingTracker{}
	h := NewHoloMesh(u, WithResourceTracker(tr), WithLabel("actor"))

	res, err := h.Update(makeGeometry(8, 1))
	require.NoError(t, err)
	assert.Equal(t, u.LiveBytes(), tr.mesh.Load())
	assert.Equal(t, int64(res.UploadedBytes), tr.uploaded.Load())

	require.NoError(t, h.UpdateTexture("luma", TextureData{Width: 2, Height: 2, BytesPerPixel: 1, Pixels: []byte{1, 2, 3, 4}}))
	assert.Equal(t, int64(4), tr.texture.Load())

	h.Release()
	assert.Equal(t, int64(0), tr.mesh.Load())
	assert.Equal(t, int64(0), tr.texture.Load())
	assert.Equal(t, int64(0), u.LiveBuffers())

	_, err = h.Update(makeGeometry(8, 2))
	assert.ErrorIs(t, err, ErrReleased)
}

func TestTextureSwapsWithMaterial(t *testing.T) {
	h := NewHoloMesh(upload.NewHostUploader(), WithLabel("actor"))
	h.Material().SetScalar("opacity", 0.5)

	_, err := h.Update(makeGeometry(3, 1))
	require.NoError(t, err)
	require.NoError(t, h.UpdateTexture("luma", TextureData{Width: 1, Height: 1, BytesPerPixel: 4, Pixels: []byte{9, 9, 9, 9}}))

	assert.Empty(t, h.Material().Current().Textures)
	require.NoError(t, h.Swap())

	current := h.Material().Current()
	assert.Equal(t, "actor/slot1/texture/luma", current.Textures["luma"])
	assert.Equal(t, float32(0.5), current.Scalars["opacity"])
	h.Read(func(s *Slot) {
		require.NotNil(t, s.Texture("luma"))
		assert.Equal(t, []byte{9, 9, 9, 9}, s.Texture("luma").Pixels())
	})

	err = h.UpdateTexture("luma", TextureData{Width: 2, Height: 1, BytesPerPixel: 4, Pixels: []byte{1}})
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestReadersNeverObserveTornSlot(t *testing.T) {
	h := NewHoloMesh(upload.NewHostUploader())
	counts := []int{3, 40, 7, 300}

	_, err := h.Update(makeGeometry(counts[0], 0))
	require.NoError(t, err)
	require.NoError(t, h.Swap())

	var stop atomic.Bool
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				h.Read(func(s *Slot) {
					n := s.Vertices.Count()
					if !assert.Len(t, s.Vertices.Positions(), n*PositionStride) {
						return
					}
					assert.Len(t, s.Index.Data(), s.Index.Count()*2)
					for i := 0; i < s.Index.Count(); i++ {
						v := int(binary.LittleEndian.Uint16(s.Index.Data()[i*2:]))
						if v >= n {
							assert.Failf(t, "torn slot", "index %d addresses %d of %d vertices", i, v, n)
							return
						}
					}
					frame := math.Float32frombits(binary.LittleEndian.Uint32(s.Vertices.Positions()))
					assert.Equal(t, float32(s.FrameIndex()), frame)
				})
			}
		}()
	}

	for frame := 1; frame < 400; frame++ {
		_, err := h.Update(makeGeometry(counts[frame%len(counts)], frame))
		require.NoError(t, err)
		require.NoError(t, h.Swap())
	}
	stop.Store(true)
	wg.Wait()
}
