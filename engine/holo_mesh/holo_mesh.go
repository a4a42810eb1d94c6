package holo_mesh

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
)

// BufferCount is the number of slots in a double-buffered mesh.
const BufferCount = 2

var (
	// ErrNoPendingWrite is returned by Swap when no completed Update is waiting.
	ErrNoPendingWrite = errors.New("holo mesh: no completed write to swap in")
	// ErrReleased is returned when a released mesh is updated.
	ErrReleased = errors.New("holo mesh: released")
)

// ResourceTracker receives byte counts from mesh updates. Negative values mean release.
type ResourceTracker interface {
	AddMeshBytes(n int64)
	AddTextureBytes(n int64)
	AddUploadBytes(n int64)
}

type nopTracker struct{}

func (nopTracker) AddMeshBytes(int64)    {}
func (nopTracker) AddTextureBytes(int64) {}
func (nopTracker) AddUploadBytes(int64)  {}

// UpdateResult describes what an Update did.
type UpdateResult struct {
	// Reallocated is true when GPU buffers had to be recreated for new counts.
	Reallocated bool
	// UploadedBytes is the number of bytes written to GPU buffers.
	UploadedBytes int
}

type holoMesh struct {
	mu *sync.Mutex // serializes Update, UpdateTexture, Swap and Release

	label          string
	uploader       upload.Uploader
	tracker        ResourceTracker
	storageIndices bool

	slots     [BufferCount]*Slot
	readIndex atomic.Uint32
	pending   bool
	released  bool

	material *Material
}

// HoloMesh is a read/write pair of mesh slots. Update mutates only the write slot; Swap
// publishes it in O(1). Readers go through Read or AcquireRead and never see a slot that is
// being written.
type HoloMesh interface {
	// Update writes geometry into the write slot. When vertex count, index count and stream
	// layout match the write slot's allocation the data is re-uploaded into the existing GPU
	// buffers; otherwise the write slot's GPU buffers are released and recreated.
	//
	// Parameters:
	//   - g: the geometry to write
	//
	// Returns:
	//   - UpdateResult: which path was taken and how much was uploaded
	//   - error: ErrInvalidGeometry, ErrReleased or an upload error
	Update(g *Geometry) (UpdateResult, error)

	// UpdateTexture writes a named texture into the write slot, reusing the GPU buffer when
	// the size matches.
	//
	// Parameters:
	//   - name: texture name
	//   - tex: texel payload
	//
	// Returns:
	//   - error: error if the payload is malformed or the upload fails
	UpdateTexture(name string, tex TextureData) error

	// Swap publishes the write slot and flips the material.
	//
	// Returns:
	//   - error: ErrNoPendingWrite when nothing was written since the last swap
	Swap() error

	// Read runs fn with the read slot held.
	//
	// Parameters:
	//   - fn: callback receiving the read slot; must not retain it
	Read(fn func(s *Slot))

	// AcquireRead returns the read slot and a release function. The slot stays consistent
	// until release is called; the next Update targeting it waits for the release.
	//
	// Returns:
	//   - *Slot: the read slot
	//   - func(): release function
	AcquireRead() (*Slot, func())

	// ReadIndex returns the index of the presented slot.
	ReadIndex() int

	// WriteIndex returns the index of the slot receiving updates.
	WriteIndex() int

	// Material returns the double-buffered material.
	Material() *Material

	// Release frees every GPU buffer of both slots. Later updates fail with ErrReleased.
	Release()
}

var _ HoloMesh = &holoMesh{}

// NewHoloMesh creates an empty double-buffered mesh.
//
// Parameters:
//   - uploader: the GPU upload collaborator
//   - options: functional options
//
// Returns:
//   - HoloMesh: the new mesh
func NewHoloMesh(uploader upload.Uploader, options ...HoloMeshBuilderOption) HoloMesh {
	h := &holoMesh{
		mu:       &sync.Mutex{},
		label:    "holo_mesh",
		uploader: uploader,
		tracker:  nopTracker{},
	}
	for i := range h.slots {
		h.slots[i] = newSlot(i)
	}
	for _, opt := range options {
		opt(h)
	}
	if h.material == nil {
		h.material = NewMaterial(h.label)
	}
	return h
}

func (h *holoMesh) Update(g *Geometry) (UpdateResult, error) {
	if err := g.Validate(); err != nil {
		return UpdateResult{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return UpdateResult{}, ErrReleased
	}

	read := h.slots[h.readIndex.Load()]
	write := h.slots[1-h.readIndex.Load()]

	// Waits for readers that acquired this slot before the last swap.
	write.mu.Lock()
	defer write.mu.Unlock()

	h.pending = false
	var res UpdateResult
	if !write.matches(g) {
		res.Reallocated = true
		h.tracker.AddMeshBytes(-write.releaseBuffers())
		if err := h.allocate(write, g); err != nil {
			write.releaseBuffers()
			return res, err
		}
		h.tracker.AddMeshBytes(write.gpuBytes())
	}

	h.copyStreams(write, read, g)

	n, err := h.uploadSlot(write)
	res.UploadedBytes = n
	h.tracker.AddUploadBytes(int64(n))
	if err != nil {
		write.initialized = false
		return res, err
	}

	write.bounds = g.Bounds
	write.sequenceIndex = g.SequenceIndex
	write.frameIndex = g.FrameIndex
	write.initialized = true
	h.pending = true
	return res, nil
}

func (h *holoMesh) UpdateTexture(name string, tex TextureData) error {
	if tex.Width <= 0 || tex.Height <= 0 || tex.BytesPerPixel <= 0 ||
		len(tex.Pixels) != tex.Width*tex.Height*tex.BytesPerPixel {
		return fmt.Errorf("texture %q %dx%dx%d with %d bytes: %w",
			name, tex.Width, tex.Height, tex.BytesPerPixel, len(tex.Pixels), ErrInvalidGeometry)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}

	write := h.slots[1-h.readIndex.Load()]
	write.mu.Lock()
	defer write.mu.Unlock()

	t := write.textures[name]
	if t == nil || t.width != tex.Width || t.height != tex.Height || t.bpp != tex.BytesPerPixel {
		if t != nil && t.gpu != nil {
			h.tracker.AddTextureBytes(-int64(t.gpu.Size()))
			t.gpu.Release()
		}
		buf, err := h.uploader.CreateBuffer(write.label(h.label, "texture/"+name),
			upload.UsageStorage|upload.UsageCopyDst, uint64(len(tex.Pixels)))
		if err != nil {
			delete(write.textures, name)
			return fmt.Errorf("create texture %q: %w", name, err)
		}
		t = &Texture{width: tex.Width, height: tex.Height, bpp: tex.BytesPerPixel, gpu: buf}
		write.textures[name] = t
		h.tracker.AddTextureBytes(int64(buf.Size()))
	}

	t.pixels = append(t.pixels[:0], tex.Pixels...)
	if err := writeAligned(h.uploader, t.gpu, t.pixels); err != nil {
		return fmt.Errorf("upload texture %q: %w", name, err)
	}
	h.tracker.AddUploadBytes(int64(len(t.pixels)))
	h.material.SetFrameTexture(name, t.gpu.Label())
	return nil
}

func (h *holoMesh) Swap() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.pending {
		return ErrNoPendingWrite
	}
	h.readIndex.Store(1 - h.readIndex.Load())
	h.material.swap()
	h.pending = false
	return nil
}

func (h *holoMesh) Read(fn func(s *Slot)) {
	s, release := h.AcquireRead()
	defer release()
	fn(s)
}

func (h *holoMesh) AcquireRead() (*Slot, func()) {
	for {
		i := h.readIndex.Load()
		s := h.slots[i]
		s.mu.RLock()
		if h.readIndex.Load() == i {
			return s, s.mu.RUnlock
		}
		// Swapped between the load and the lock; the slot may now be the write slot.
		s.mu.RUnlock()
	}
}

func (h *holoMesh) ReadIndex() int {
	return int(h.readIndex.Load())
}

func (h *holoMesh) WriteIndex() int {
	return 1 - int(h.readIndex.Load())
}

func (h *holoMesh) Material() *Material {
	return h.material
}

func (h *holoMesh) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.pending = false
	for _, s := range h.slots {
		s.mu.Lock()
		h.tracker.AddMeshBytes(-s.releaseBuffers())
		h.tracker.AddTextureBytes(-s.releaseTextures())
		s.mu.Unlock()
	}
}

// allocate creates CPU streams and GPU buffers sized for g. Caller holds the slot lock.
func (h *holoMesh) allocate(s *Slot, g *Geometry) error {
	v := &s.Vertices
	v.count = g.VertexCount
	v.positions = make([]byte, len(g.Positions))
	v.prevPositions = make([]byte, len(g.Positions))
	v.tangents = sizedOrNil(len(g.Tangents))
	v.colors = sizedOrNil(len(g.Colors))
	v.texCoords = make([][]byte, len(g.TexCoords))
	for i, uv := range g.TexCoords {
		v.texCoords[i] = make([]byte, len(uv))
	}

	s.Index.count = g.IndexCount
	s.Index.use32 = g.Use32BitIndices
	s.Index.storage = h.storageIndices
	s.Index.data = make([]byte, len(g.Indices))

	var err error
	create := func(stream string, usage upload.BufferUsage, size int) upload.Buffer {
		if err != nil || size == 0 {
			return nil
		}
		var buf upload.Buffer
		buf, err = h.uploader.CreateBuffer(s.label(h.label, stream), usage|upload.UsageCopyDst, uint64(size))
		if err != nil {
			err = fmt.Errorf("create %s buffer: %w", stream, err)
		}
		return buf
	}

	indexUsage := upload.UsageIndex
	if h.storageIndices {
		indexUsage |= upload.UsageStorage
	}
	s.Index.gpu = create("indices", indexUsage, len(s.Index.data))
	v.positionsGPU = create("positions", upload.UsageVertex, len(v.positions))
	v.prevPositionsGPU = create("prev_positions", upload.UsageVertex, len(v.prevPositions))
	v.tangentsGPU = create("tangents", upload.UsageVertex, len(v.tangents))
	v.colorsGPU = create("colors", upload.UsageVertex, len(v.colors))
	v.texCoordsGPU = make([]upload.Buffer, len(v.texCoords))
	for i, uv := range v.texCoords {
		v.texCoordsGPU[i] = create(fmt.Sprintf("texcoord%d", i), upload.UsageVertex, len(uv))
	}
	return err
}

// copyStreams copies g into the write slot's CPU streams. Previous positions come from the read
// slot when it holds the same vertex count, otherwise from g itself.
func (h *holoMesh) copyStreams(write, read *Slot, g *Geometry) {
	v := &write.Vertices
	if read.initialized && read.Vertices.count == g.VertexCount {
		copy(v.prevPositions, read.Vertices.positions)
	} else {
		copy(v.prevPositions, g.Positions)
	}
	copy(v.positions, g.Positions)
	copy(v.tangents, g.Tangents)
	copy(v.colors, g.Colors)
	for i, uv := range g.TexCoords {
		copy(v.texCoords[i], uv)
	}
	copy(write.Index.data, g.Indices)
}

// uploadSlot writes every CPU stream of s to its GPU buffer.
func (h *holoMesh) uploadSlot(s *Slot) (int, error) {
	v := &s.Vertices
	streams := []struct {
		buf  upload.Buffer
		data []byte
	}{
		{s.Index.gpu, s.Index.data},
		{v.positionsGPU, v.positions},
		{v.prevPositionsGPU, v.prevPositions},
		{v.tangentsGPU, v.tangents},
		{v.colorsGPU, v.colors},
	}
	for i := range v.texCoords {
		streams = append(streams, struct {
			buf  upload.Buffer
			data []byte
		}{v.texCoordsGPU[i], v.texCoords[i]})
	}

	total := 0
	for _, st := range streams {
		if st.buf == nil || len(st.data) == 0 {
			continue
		}
		if err := writeAligned(h.uploader, st.buf, st.data); err != nil {
			return total, fmt.Errorf("upload %s: %w", st.buf.Label(), err)
		}
		total += len(st.data)
	}
	return total, nil
}

// writeAligned uploads data, padding the tail to the 4-byte multiple GPU copies require.
func writeAligned(u upload.Uploader, buf upload.Buffer, data []byte) error {
	if rem := len(data) % 4; rem != 0 {
		padded := make([]byte, len(data)+4-rem)
		copy(padded, data)
		data = padded
	}
	return u.WriteBuffer(buf, 0, data)
}

func sizedOrNil(n int) []byte {
	if n == 0 {
		return nil
	}
	return make([]byte, n)
}
