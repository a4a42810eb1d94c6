package holo_player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/decoder"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_mesh"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlbedoTexture is the material texture slot fed by decoded frame textures.
const AlbedoTexture = "albedo"

// DefaultFrameRate is used when neither the options nor the decoder supply a usable rate.
const DefaultFrameRate = 30.0

var (
	// ErrFrameNotReady is returned by UpdateRenderThread when the requested frame has not been decoded yet.
	ErrFrameNotReady = errors.New("holo player: frame not ready")
	// ErrNotAttached is returned by operations that need a registered player.
	ErrNotAttached = errors.New("holo player: not attached")
	// ErrAlreadyAttached is returned when attaching a player twice.
	ErrAlreadyAttached = errors.New("holo player: already attached")
	// ErrSeekOutOfRange is returned by Seek for positions the decoder does not have.
	ErrSeekOutOfRange = errors.New("holo player: seek out of range")
)

// PlayerStats counts what happened to a player's frames.
type PlayerStats struct {
	Decoded   int64
	Presented int64
	Culled    int64
	NotReady  int64
	Staged    int
}

type player struct {
	mu *sync.Mutex

	name     string
	manager  holo_manager.Manager
	decoder  decoder.Decoder
	mesh     holo_mesh.HoloMesh
	log      *zap.Logger
	lod      LODOptions
	prefetch int

	handle   holo_manager.Handle
	owner    holo_manager.Owner
	detached bool
	ctx      context.Context
	cancel   context.CancelFunc

	autoPlay  bool
	playing   bool
	looping   bool
	frameRate float64
	sequence  int
	frame     int
	elapsed   time.Duration

	staged   map[frameKey]*stagedFrame
	decoding map[frameKey]bool
	retiring []*stagedFrame

	requested      frameKey
	requestPending bool
	presented      frameKey
	hasPresented   bool
	bones          [][16]float32
	culled         bool
	bounds         common.Bounds

	stats PlayerStats
}

// Player plays one volumetric source through the holo manager. It decodes frames on the
// manager's workers into pooled staging blocks, uploads them into a double-buffered mesh on
// the render thread, and picks its LOD from its screen size.
type Player interface {
	holo_manager.Component

	// Attach registers the player with its manager under the given owner.
	//
	// Parameters:
	//   - owner: the scene actor carrying the player
	//   - opts: registration options
	//
	// Returns:
	//   - error: ErrAlreadyAttached or a registration error
	Attach(owner holo_manager.Owner, opts ...holo_manager.RegisterOption) error

	// Detach unregisters the player, drops every staged frame and releases the mesh. A
	// detached player cannot be attached again.
	Detach()

	// Handle returns the manager handle, or uuid.Nil when detached.
	Handle() holo_manager.Handle

	// Tick advances the playback clock and requests decodes and an update for the frame
	// under the playhead.
	//
	// Parameters:
	//   - dt: game time since the last tick
	//
	// Returns:
	//   - error: ErrNotAttached, or the manager's error when the update request was rejected
	Tick(dt time.Duration) error

	// Play starts or resumes playback.
	Play()

	// Pause stops the playback clock. The current frame stays presented.
	Pause()

	// Playing reports whether the playback clock is running.
	Playing() bool

	// Seek moves the playhead.
	//
	// Parameters:
	//   - sequenceIndex: target sequence
	//   - frameIndex: target frame
	//
	// Returns:
	//   - error: ErrSeekOutOfRange
	Seek(sequenceIndex, frameIndex int) error

	// SetLooping toggles wrapping at the end of the sequence.
	SetLooping(loop bool)

	// Position returns the playhead.
	Position() (sequenceIndex, frameIndex int)

	// Presented returns the frame in the mesh's read slot and whether any frame was presented.
	Presented() (sequenceIndex, frameIndex int, ok bool)

	// PresentedBones returns the joint matrices of the presented frame, or nil for an
	// unskinned source. The slice is owned by the player and replaced on every present.
	PresentedBones() [][16]float32

	// SetLODOptions replaces the LOD thresholds.
	SetLODOptions(opts LODOptions)

	// Mesh returns the double-buffered mesh the renderer draws from.
	Mesh() holo_mesh.HoloMesh

	// Stats returns a snapshot of the player's counters.
	Stats() PlayerStats
}

var _ Player = &player{}

// NewPlayer creates a detached player.
//
// Parameters:
//   - manager: the manager scheduling the player
//   - dec: the frame source
//   - uploader: the GPU upload collaborator for the player's mesh
//   - options: functional options
//
// Returns:
//   - Player: the new player
func NewPlayer(manager holo_manager.Manager, dec decoder.Decoder, uploader upload.Uploader, options ...PlayerBuilderOption) Player {
	p := &player{
		mu:       &sync.Mutex{},
		name:     "holo_player",
		manager:  manager,
		decoder:  dec,
		log:      zap.NewNop(),
		lod:      DefaultLODOptions(),
		prefetch: 2,
		looping:  true,
		staged:   make(map[frameKey]*stagedFrame),
		decoding: make(map[frameKey]bool),
	}
	for _, opt := range options {
		opt(p)
	}
	if !validFrameRate(p.frameRate) {
		p.frameRate = dec.FrameRate()
	}
	if !validFrameRate(p.frameRate) {
		p.log.Warn("decoder reports no usable frame rate",
			zap.String("player", p.name),
			zap.Float64("frame_rate", p.frameRate),
			zap.Float64("default", DefaultFrameRate),
		)
		p.frameRate = DefaultFrameRate
	}
	if p.sequence >= dec.SequenceCount() {
		p.sequence = 0
	}
	p.mesh = holo_mesh.NewHoloMesh(uploader,
		holo_mesh.WithLabel(p.name),
		holo_mesh.WithResourceTracker(manager),
	)
	return p
}

func (p *player) Attach(owner holo_manager.Owner, opts ...holo_manager.RegisterOption) error {
	p.mu.Lock()
	if p.handle != uuid.Nil {
		p.mu.Unlock()
		return ErrAlreadyAttached
	}
	if p.detached {
		p.mu.Unlock()
		return fmt.Errorf("attach %s: %w", p.name, holo_mesh.ErrReleased)
	}
	p.mu.Unlock()

	h, err := p.manager.Register(p, owner, opts...)
	if err != nil {
		return fmt.Errorf("attach %s: %w", p.name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = h
	p.owner = owner
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if p.autoPlay {
		p.playing = true
	}
	p.log.Debug("player attached", zap.String("player", p.name), zap.String("handle", h.String()))
	return nil
}

func (p *player) Detach() {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()
	if h == uuid.Nil {
		return
	}

	p.manager.Unregister(h)

	p.mu.Lock()
	p.cancel()
	p.handle = uuid.Nil
	p.owner = nil
	p.detached = true
	p.playing = false
	p.requestPending = false
	p.releaseAllLocked()
	p.mu.Unlock()

	p.mesh.Release()
	p.log.Debug("player detached", zap.String("player", p.name))
}

func (p *player) Handle() holo_manager.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *player) Tick(dt time.Duration) error {
	p.mu.Lock()
	h := p.handle
	if h == uuid.Nil {
		p.mu.Unlock()
		return ErrNotAttached
	}
	if p.playing {
		p.advanceLocked(dt)
	}
	work := p.prefetchLocked()
	current := frameKey{sequence: p.sequence, frame: p.frame}
	needsUpdate := !(p.hasPresented && p.presented == current) &&
		!(p.requestPending && p.requested == current)
	p.mu.Unlock()

	for _, key := range work {
		if err := p.manager.AddWorkRequest(h, key.sequence, key.frame); err != nil {
			p.log.Debug("decode request rejected",
				zap.String("player", p.name),
				zap.Int("sequence", key.sequence),
				zap.Int("frame", key.frame),
				zap.Error(err),
			)
			p.mu.Lock()
			delete(p.decoding, key)
			p.mu.Unlock()
		}
	}

	if !needsUpdate {
		return nil
	}
	if err := p.manager.AddUpdateRequest(h, current.sequence, current.frame); err != nil {
		return err
	}
	p.mu.Lock()
	p.requested = current
	p.requestPending = true
	p.mu.Unlock()
	return nil
}

// advanceLocked moves the playhead by whole frames of elapsed time. A sequence without
// frames holds the playhead.
func (p *player) advanceLocked(dt time.Duration) {
	count := p.decoder.FrameCount(p.sequence)
	if count <= 0 {
		p.elapsed = 0
		return
	}
	frameTime := max(time.Duration(float64(time.Second)/p.frameRate), 1)
	p.elapsed += max(dt, 0)
	steps := int64(p.elapsed / frameTime)
	if steps == 0 {
		return
	}
	p.elapsed -= time.Duration(steps) * frameTime

	target := int64(p.frame) + steps
	switch {
	case target < int64(count):
		p.frame = int(target)
	case p.looping:
		p.frame = int(target % int64(count))
	default:
		p.frame = count - 1
		p.playing = false
		p.elapsed = 0
	}
}

func validFrameRate(fps float64) bool {
	return fps > 0 && !math.IsInf(fps, 0) && !math.IsNaN(fps)
}

// prefetchLocked marks and returns the frames from the playhead onward that need decoding.
// A culled player only decodes the frame under the playhead.
func (p *player) prefetchLocked() []frameKey {
	depth := p.prefetch
	if p.culled {
		depth = 0
	}
	count := p.decoder.FrameCount(p.sequence)
	if count <= 0 {
		return nil
	}
	var out []frameKey
	for i := 0; i <= depth; i++ {
		f := p.frame + i
		if f >= count {
			if !p.looping {
				break
			}
			f %= count
		}
		key := frameKey{sequence: p.sequence, frame: f}
		if p.staged[key] != nil || p.decoding[key] || (p.hasPresented && p.presented == key) {
			continue
		}
		p.decoding[key] = true
		out = append(out, key)
	}
	return out
}

func (p *player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
}

func (p *player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

func (p *player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *player) Seek(sequenceIndex, frameIndex int) error {
	if frameIndex < 0 || frameIndex >= p.decoder.FrameCount(sequenceIndex) {
		return fmt.Errorf("seek to %d/%d: %w", sequenceIndex, frameIndex, ErrSeekOutOfRange)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequence = sequenceIndex
	p.frame = frameIndex
	p.elapsed = 0
	p.releaseStaleLocked()
	return nil
}

func (p *player) SetLooping(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.looping = loop
}

func (p *player) Position() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence, p.frame
}

func (p *player) Presented() (int, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presented.sequence, p.presented.frame, p.hasPresented
}

func (p *player) PresentedBones() [][16]float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bones
}

func (p *player) SetLODOptions(opts LODOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lod = opts.normalized()
}

func (p *player) Mesh() holo_mesh.HoloMesh {
	return p.mesh
}

func (p *player) Stats() PlayerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	st.Staged = len(p.staged)
	return st
}

// DoThreadedWork decodes a frame into a staging block. It runs on a worker goroutine.
func (p *player) DoThreadedWork(sequenceIndex, frameIndex int) error {
	key := frameKey{sequence: sequenceIndex, frame: frameIndex}
	p.mu.Lock()
	ctx := p.ctx
	if p.handle == uuid.Nil || p.staged[key] != nil {
		delete(p.decoding, key)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	sf, err := p.decodeAndStage(ctx, key)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.decoding, key)
	if err != nil {
		return fmt.Errorf("decode %s %d/%d: %w", p.name, sequenceIndex, frameIndex, err)
	}
	if p.handle == uuid.Nil || p.staged[key] != nil {
		p.freeLocked(sf)
		return nil
	}
	p.staged[key] = sf
	p.stats.Decoded++
	return nil
}

func (p *player) decodeAndStage(ctx context.Context, key frameKey) (*stagedFrame, error) {
	start := time.Now()
	f, err := p.decoder.Decode(ctx, key.sequence, key.frame)
	if err != nil {
		return nil, err
	}
	p.manager.AddIOResult(int64(f.ByteSize()), time.Since(start))

	block, err := p.manager.AllocBlock(stagedSize(f))
	if err != nil {
		return nil, err
	}
	return &stagedFrame{
		key:      key,
		block:    block,
		geometry: packFrame(block.Bytes(), f),
		texture:  f.Texture,
		bones:    f.BoneTransforms,
	}, nil
}

// UpdateRenderThread uploads a staged frame into the mesh's write slot and swaps it in.
func (p *player) UpdateRenderThread(req holo_manager.UpdateRequest) error {
	key := frameKey{sequence: req.SequenceIndex, frame: req.FrameIndex}

	p.mu.Lock()
	sf := p.staged[key]
	if sf == nil {
		p.stats.NotReady++
		p.mu.Unlock()
		return fmt.Errorf("%s %d/%d: %w", p.name, key.sequence, key.frame, ErrFrameNotReady)
	}
	delete(p.staged, key)
	p.mu.Unlock()

	if err := p.present(sf); err != nil {
		p.mu.Lock()
		p.freeLocked(sf)
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.retiring = append(p.retiring, sf)
	p.presented = key
	p.hasPresented = true
	p.bones = sf.bones
	p.culled = false
	if p.requested == key {
		p.requestPending = false
	}
	p.bounds = sf.geometry.Bounds
	p.stats.Presented++
	return nil
}

func (p *player) present(sf *stagedFrame) error {
	if _, err := p.mesh.Update(&sf.geometry); err != nil {
		return fmt.Errorf("upload %s %d/%d: %w", p.name, sf.key.sequence, sf.key.frame, err)
	}
	if t := sf.texture; t != nil {
		err := p.mesh.UpdateTexture(AlbedoTexture, holo_mesh.TextureData{
			Width:         t.Width,
			Height:        t.Height,
			BytesPerPixel: 4,
			Pixels:        t.Pixels,
		})
		if err != nil {
			return fmt.Errorf("upload %s texture: %w", p.name, err)
		}
	}
	p.mesh.Material().SetFrameScalar("frame_index", float32(sf.key.frame))
	return p.mesh.Swap()
}

// EndFrameRenderThread returns the staging blocks of presented frames and drops staged
// frames the playhead has moved past.
func (p *player) EndFrameRenderThread(req holo_manager.UpdateRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sf := range p.retiring {
		p.freeLocked(sf)
	}
	p.retiring = p.retiring[:0]
	p.releaseStaleLocked()
}

// RequestCulled drops the staged frame of a request resolved without an update.
func (p *player) RequestCulled(req holo_manager.UpdateRequest) {
	key := frameKey{sequence: req.SequenceIndex, frame: req.FrameIndex}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Culled++
	p.culled = true
	if p.requested == key {
		p.requestPending = false
	}
	if sf := p.staged[key]; sf != nil {
		delete(p.staged, key)
		p.freeLocked(sf)
	}
}

func (p *player) ComputeLOD(view holo_manager.View) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var pos [3]float32
	if p.owner != nil && p.owner.Valid() {
		pos = p.owner.Position()
	}
	b := p.bounds.Translate(pos)
	return p.lod.selectLOD(view.Position(), b.Origin, b.SphereRadius(), view.ProjectionScale())
}

func (p *player) Bounds() common.Bounds {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bounds
}

func (p *player) FreeUnusedMemory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, sf := range p.staged {
		delete(p.staged, key)
		p.freeLocked(sf)
	}
}

// releaseStaleLocked frees staged frames outside the prefetch window ahead of the playhead.
func (p *player) releaseStaleLocked() {
	count := p.decoder.FrameCount(p.sequence)
	for key, sf := range p.staged {
		if key.sequence == p.sequence {
			ahead := key.frame - p.frame
			if ahead < 0 && p.looping {
				ahead += count
			}
			if ahead >= 0 && ahead <= p.prefetch {
				continue
			}
		}
		delete(p.staged, key)
		p.freeLocked(sf)
	}
}

func (p *player) releaseAllLocked() {
	for key, sf := range p.staged {
		delete(p.staged, key)
		p.freeLocked(sf)
	}
	for _, sf := range p.retiring {
		p.freeLocked(sf)
	}
	p.retiring = nil
}

func (p *player) freeLocked(sf *stagedFrame) {
	if sf == nil || sf.block == nil {
		return
	}
	if err := p.manager.FreeBlock(sf.block); err != nil {
		p.log.Error("free staging block", zap.String("player", p.name), zap.Error(err))
	}
	sf.block = nil
}
