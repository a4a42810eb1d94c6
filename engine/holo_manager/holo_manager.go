package holo_manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/engine/holo_mesh"
	"github.com/Carmen-Shannon/oxy-holo/engine/memory_pool"
	"github.com/Carmen-Shannon/oxy-holo/engine/work_dispatcher"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxLOD is the LOD constant of the priority formula.
const DefaultMaxLOD = 3

// DefaultCleanupInterval is how often the staging pool is trimmed.
const DefaultCleanupInterval = 250 * time.Millisecond

var (
	// ErrNotInitialized is returned by operations that need Initialize to have run.
	ErrNotInitialized = errors.New("holo manager: not initialized")
	// ErrInvalidHandle is returned for nil or unregistered handles.
	ErrInvalidHandle = errors.New("holo manager: invalid handle")
	// ErrNilComponent is returned when registering without a component or owner.
	ErrNilComponent = errors.New("holo manager: nil component or owner")
)

// Settings are the scheduling switches that can change at runtime.
type Settings struct {
	// FrameUpdateLimit is the wall-clock budget of a priority pass. 0 disables the budget.
	FrameUpdateLimit time.Duration
	// FrustumCulling enables visibility tests in UpdateVisibilityAndLOD.
	FrustumCulling bool
	// ImmediateMode executes every current request each frame instead of prioritizing.
	ImmediateMode bool
	// EditorPreview executes every current request without budget while no play session runs.
	EditorPreview bool
}

// DefaultSettings returns priority scheduling with a 4ms budget and frustum culling.
func DefaultSettings() Settings {
	return Settings{
		FrameUpdateLimit: 4 * time.Millisecond,
		FrustumCulling:   true,
	}
}

type manager struct {
	frameMu     *sync.Mutex // held for a whole scheduling or end-of-frame pass, and by Unregister
	settingsMu  *sync.RWMutex
	lifecycleMu *sync.Mutex

	// passMu guards inPass and unregistered. Unregister calls made while a pass runs only drop
	// the instance from the table; the pass scrubs their queue entries when it finishes.
	passMu       *sync.Mutex
	inPass       bool
	unregistered []Handle

	table *instanceTable
	queue *requestQueue
	pool  memory_pool.MemoryPool
	stats *statsCollector

	dispatcher        work_dispatcher.Dispatcher
	dispatcherOptions []work_dispatcher.DispatcherBuilderOption

	settings        Settings
	maxLOD          int
	cleanupInterval time.Duration

	initialized atomic.Bool
	playing     atomic.Bool
	frameNumber atomic.Uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
	log *zap.Logger
}

// Manager schedules mesh updates for every registered playback instance. One Manager serves the
// whole process; it is created once and passed to the engine loop and to every component.
type Manager interface {
	holo_mesh.ResourceTracker

	// Initialize starts the work dispatcher and the periodic pool cleanup. Calling it again
	// while initialized is a no-op.
	//
	// Parameters:
	//   - ctx: context bounding the cleanup goroutine
	//
	// Returns:
	//   - error: always nil today; reserved for backends that can fail to start
	Initialize(ctx context.Context) error

	// Shutdown stops cleanup, drains the dispatcher, clears both queues and empties the pool.
	// Registered instances are kept. Safe to call multiple times.
	Shutdown()

	// Initialized reports whether Initialize has run without a later Shutdown.
	Initialized() bool

	// Configure replaces the scheduling settings. Takes effect at the next pass.
	//
	// Parameters:
	//   - s: the new settings
	Configure(s Settings)

	// Settings returns the current scheduling settings.
	Settings() Settings

	// Register adds an instance, or returns the existing handle for the same component and
	// owner. Both must be comparable values, typically pointers.
	//
	// Parameters:
	//   - component: the playback component
	//   - owner: the scene actor
	//   - opts: registration options
	//
	// Returns:
	//   - Handle: the instance handle
	//   - error: ErrNilComponent
	Register(component Component, owner Owner, opts ...RegisterOption) (Handle, error)

	// Unregister removes an instance and every queued request for it. Once it returns, no
	// request for the handle executes. It may be called from a component callback; during a
	// pass the queued requests are scrubbed when the pass finishes. Unknown handles are ignored.
	//
	// Parameters:
	//   - h: the handle to remove
	Unregister(h Handle)

	// Instances returns a snapshot of every registered instance, ordered by owner name.
	Instances() []InstanceInfo

	// AddUpdateRequest asks for a frame to be presented. It replaces the queued request for the
	// handle (immediate mode: only one with the same frame number) or appends a new one.
	//
	// Parameters:
	//   - h: the instance handle
	//   - sequenceIndex: the sequence to present
	//   - frameIndex: the frame to present
	//
	// Returns:
	//   - error: ErrNotInitialized or ErrInvalidHandle when the request was dropped
	AddUpdateRequest(h Handle, sequenceIndex, frameIndex int) error

	// AddWorkRequest queues DoThreadedWork for the instance on the worker pool.
	//
	// Parameters:
	//   - h: the instance handle
	//   - sequenceIndex: the sequence to decode
	//   - frameIndex: the frame to decode
	//
	// Returns:
	//   - error: ErrNotInitialized, ErrInvalidHandle or a dispatcher error
	AddWorkRequest(h Handle, sequenceIndex, frameIndex int) error

	// BeginFrame drains the request queue and runs one scheduling pass for the current frame.
	//
	// Returns:
	//   - PassResult: what the pass did
	BeginFrame() PassResult

	// EndFrame hands every request completed by the last pass to its component once, then
	// clears the end-of-frame queue.
	//
	// Returns:
	//   - int: the number of end-of-frame callbacks made
	EndFrame() int

	// UpdateVisibilityAndLOD recomputes visibility and LOD of every valid instance.
	//
	// Parameters:
	//   - view: the camera to test against
	UpdateVisibilityAndLOD(view View)

	// AdvanceFrame increments the frame number stamped on new requests.
	//
	// Returns:
	//   - uint32: the new frame number
	AdvanceFrame() uint32

	// SetFrameNumber sets the frame number stamped on new requests.
	//
	// Parameters:
	//   - n: the frame number
	SetFrameNumber(n uint32)

	// FrameNumber returns the current frame number.
	FrameNumber() uint32

	// BeginPlaySession marks a play session as running and frees unused memory.
	BeginPlaySession()

	// EndPlaySession marks the play session as finished.
	EndPlaySession()

	// FreeUnusedMemory asks every component to drop cached data and empties the staging pool.
	FreeUnusedMemory()

	// AllocBlock allocates a staging block and counts it as container memory.
	//
	// Parameters:
	//   - size: requested bytes
	//
	// Returns:
	//   - *memory_pool.Block: the block
	//   - error: pool errors
	AllocBlock(size int) (*memory_pool.Block, error)

	// FreeBlock returns a staging block to the pool.
	//
	// Parameters:
	//   - b: the block
	//
	// Returns:
	//   - error: pool errors
	FreeBlock(b *memory_pool.Block) error

	// AddIOResult records bytes read from storage and how long the read took.
	//
	// Parameters:
	//   - bytes: bytes read
	//   - d: read duration
	AddIOResult(bytes int64, d time.Duration)

	// Stats returns a snapshot of every counter.
	Stats() Stats

	// PendingRequests returns a copy of the queued requests in queue order.
	PendingRequests() []UpdateRequest

	// MaxLOD returns the LOD constant of the priority formula.
	MaxLOD() int
}

var _ Manager = &manager{}

// NewManager creates a Manager. Call Initialize before requesting updates.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - Manager: the new manager
func NewManager(options ...ManagerBuilderOption) Manager {
	m := &manager{
		frameMu:         &sync.Mutex{},
		settingsMu:      &sync.RWMutex{},
		lifecycleMu:     &sync.Mutex{},
		passMu:          &sync.Mutex{},
		table:           newInstanceTable(),
		queue:           newRequestQueue(),
		settings:        DefaultSettings(),
		maxLOD:          DefaultMaxLOD,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		log:             zap.NewNop(),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.pool == nil {
		m.pool = memory_pool.NewMemoryPool(memory_pool.WithLogger(m.log.Named("memory_pool")))
	}
	m.stats = newStatsCollector(m.maxLOD+1, m.now())
	return m
}

func (m *manager) Initialize(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.initialized.Load() {
		return nil
	}

	opts := append([]work_dispatcher.DispatcherBuilderOption{
		work_dispatcher.WithLogger(m.log.Named("work_dispatcher")),
	}, m.dispatcherOptions...)
	m.dispatcher = work_dispatcher.NewDispatcher(m.executeWork, opts...)

	cctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.runCleanup(cctx)

	m.initialized.Store(true)
	s := m.Settings()
	m.log.Info("holo manager initialized",
		zap.Duration("frame_update_limit", s.FrameUpdateLimit),
		zap.Bool("frustum_culling", s.FrustumCulling),
		zap.Bool("immediate_mode", s.ImmediateMode),
		zap.Bool("editor_preview", s.EditorPreview),
		zap.Int("max_lod", m.maxLOD),
	)
	return nil
}

func (m *manager) Shutdown() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if !m.initialized.Load() {
		return
	}
	m.initialized.Store(false)

	m.cancel()
	m.wg.Wait()
	m.dispatcher.Shutdown()

	m.frameMu.Lock()
	m.queue.clear()
	m.frameMu.Unlock()

	m.pool.Empty()
	m.log.Info("holo manager shut down", zap.Int("instances", m.table.len()))
}

func (m *manager) Initialized() bool {
	return m.initialized.Load()
}

func (m *manager) Configure(s Settings) {
	m.settingsMu.Lock()
	m.settings = s
	m.settingsMu.Unlock()
	m.log.Info("holo manager configured",
		zap.Duration("frame_update_limit", s.FrameUpdateLimit),
		zap.Bool("frustum_culling", s.FrustumCulling),
		zap.Bool("immediate_mode", s.ImmediateMode),
		zap.Bool("editor_preview", s.EditorPreview),
	)
}

func (m *manager) Settings() Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.settings
}

func (m *manager) Register(component Component, owner Owner, opts ...RegisterOption) (Handle, error) {
	if component == nil || owner == nil {
		return uuid.Nil, ErrNilComponent
	}
	h, created := m.table.register(component, owner, opts...)
	if created {
		m.stats.resetBreakTime()
		m.log.Debug("instance registered", zap.String("handle", h.String()), zap.String("owner", owner.Name()))
	}
	return h, nil
}

func (m *manager) Unregister(h Handle) {
	m.passMu.Lock()
	if m.inPass {
		if m.table.remove(h) {
			m.unregistered = append(m.unregistered, h)
		}
		m.passMu.Unlock()
		return
	}
	m.passMu.Unlock()

	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	if !m.table.remove(h) {
		return
	}
	m.purge(h)
}

func (m *manager) purge(h Handle) {
	purged := m.queue.purge(h)
	m.log.Debug("instance unregistered", zap.String("handle", h.String()), zap.Int("purged_requests", purged))
}

// beginPassLocked routes Unregister calls made by component callbacks around frameMu.
func (m *manager) beginPassLocked() {
	m.passMu.Lock()
	m.inPass = true
	m.passMu.Unlock()
}

// endPassLocked scrubs the queues of instances unregistered while the pass ran.
func (m *manager) endPassLocked() {
	m.passMu.Lock()
	m.inPass = false
	pending := m.unregistered
	m.unregistered = nil
	m.passMu.Unlock()
	for _, h := range pending {
		m.purge(h)
	}
}

func (m *manager) Instances() []InstanceInfo {
	return m.table.infos()
}

func (m *manager) AddUpdateRequest(h Handle, sequenceIndex, frameIndex int) error {
	if !m.initialized.Load() {
		m.log.Warn("update request before initialization",
			zap.String("handle", h.String()),
			zap.Int("sequence", sequenceIndex),
			zap.Int("frame", frameIndex),
		)
		return ErrNotInitialized
	}
	if h == uuid.Nil {
		m.log.Error("update request with nil handle", zap.Int("sequence", sequenceIndex), zap.Int("frame", frameIndex))
		return ErrInvalidHandle
	}
	if !m.table.contains(h) {
		return fmt.Errorf("update request for %s: %w", h, ErrInvalidHandle)
	}

	m.queue.add(UpdateRequest{
		Handle:               h,
		SequenceIndex:        sequenceIndex,
		FrameIndex:           frameIndex,
		RequestedFrameNumber: m.frameNumber.Load(),
	}, m.Settings().ImmediateMode)
	return nil
}

func (m *manager) AddWorkRequest(h Handle, sequenceIndex, frameIndex int) error {
	if !m.initialized.Load() {
		m.log.Warn("work request before initialization",
			zap.String("handle", h.String()),
			zap.Int("sequence", sequenceIndex),
			zap.Int("frame", frameIndex),
		)
		return ErrNotInitialized
	}
	if h == uuid.Nil || !m.table.contains(h) {
		return fmt.Errorf("work request for %s: %w", h, ErrInvalidHandle)
	}
	return m.dispatcher.Submit(h, sequenceIndex, frameIndex, nil)
}

// executeWork runs on a worker goroutine.
func (m *manager) executeWork(req *work_dispatcher.WorkRequest) error {
	inst, ok := m.table.lookup(req.Handle)
	if !ok {
		return fmt.Errorf("threaded work for %s: %w", req.Handle, ErrInvalidHandle)
	}
	return inst.component.DoThreadedWork(req.SequenceIndex, req.FrameIndex)
}

func (m *manager) BeginFrame() PassResult {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()

	settings := m.Settings()
	mode := m.mode(settings)
	current := m.frameNumber.Load()
	result := PassResult{Mode: mode, Frame: current}
	if !m.initialized.Load() {
		return result
	}

	reqs := m.queue.drain()
	if len(reqs) == 0 {
		return result
	}

	m.beginPassLocked()
	defer m.endPassLocked()
	p := &pass{result: result, start: m.now()}
	switch mode {
	case ModeEditor:
		m.runEditorPass(p, reqs, current)
	case ModeImmediate:
		m.runImmediatePass(p, reqs, current)
	default:
		m.runPriorityPass(p, reqs, settings.FrameUpdateLimit)
	}
	p.result.Elapsed = m.now().Sub(p.start)

	p.result.Dropped += m.queue.requeue(p.deferred, mode == ModeImmediate)
	m.queue.pushEndFrame(p.completed)
	m.stats.recordPass(p.result, p.maxStarve, p.breakTime)

	if p.result.BudgetExhausted {
		m.log.Debug("frame update budget exhausted",
			zap.Uint32("frame", current),
			zap.Int("completed", p.result.Completed),
			zap.Int("deferred", p.result.Deferred),
			zap.Duration("break_time", p.breakTime),
		)
	}
	return p.result
}

func (m *manager) mode(s Settings) Mode {
	switch {
	case s.EditorPreview && !m.playing.Load():
		return ModeEditor
	case s.ImmediateMode:
		return ModeImmediate
	}
	return ModePriority
}

func (m *manager) EndFrame() int {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()

	m.beginPassLocked()
	defer m.endPassLocked()
	calls := 0
	for _, req := range m.queue.drainEndFrame() {
		inst, ok := m.table.lookup(req.Handle)
		if !ok {
			continue
		}
		calls++
		if err := safeEndFrame(inst.component, req); err != nil {
			m.log.Error("end of frame callback failed", zap.String("handle", req.Handle.String()), zap.Error(err))
		}
	}
	m.stats.tickFrame(m.now())
	return calls
}

func (m *manager) UpdateVisibilityAndLOD(view View) {
	settings := m.Settings()
	playing := m.playing.Load()
	frustum := view.Frustum()

	views := m.table.views()
	results := make([]visibilityResult, 0, len(views))
	lodCounts := make([]int, m.maxLOD+1)
	visibleCount := 0

	for _, v := range views {
		if v.component == nil || v.owner == nil || !v.owner.Valid() {
			continue
		}
		if playing && v.editor {
			continue
		}

		visible := true
		if settings.FrustumCulling {
			b := v.component.Bounds().Translate(v.owner.Position())
			visible = frustum.IntersectsBox(b.Origin, b.Extent)
		}
		lod := min(max(v.component.ComputeLOD(view), 0), m.maxLOD)

		results = append(results, visibilityResult{handle: v.handle, visible: visible, lod: lod})
		lodCounts[lod]++
		if visible {
			visibleCount++
		}
	}

	m.table.applyVisibility(results)
	m.stats.recordVisibility(visibleCount, lodCounts, m.table.slowest(slowestInstanceCount))
}

func (m *manager) AdvanceFrame() uint32 {
	return m.frameNumber.Add(1)
}

func (m *manager) SetFrameNumber(n uint32) {
	m.frameNumber.Store(n)
}

func (m *manager) FrameNumber() uint32 {
	return m.frameNumber.Load()
}

func (m *manager) BeginPlaySession() {
	m.playing.Store(true)
	m.FreeUnusedMemory()
	m.log.Info("play session started")
}

func (m *manager) EndPlaySession() {
	m.playing.Store(false)
	m.log.Info("play session ended")
}

func (m *manager) FreeUnusedMemory() {
	for _, v := range m.table.views() {
		if v.component == nil || v.owner == nil || !v.owner.Valid() {
			continue
		}
		v.component.FreeUnusedMemory()
	}
	m.pool.Empty()
}

func (m *manager) AllocBlock(size int) (*memory_pool.Block, error) {
	b, err := m.pool.Allocate(size)
	if err != nil {
		return nil, err
	}
	m.stats.containerBytes.Add(int64(b.Size()))
	return b, nil
}

func (m *manager) FreeBlock(b *memory_pool.Block) error {
	if b == nil {
		return nil
	}
	size := b.Size()
	if err := m.pool.Deallocate(b); err != nil {
		return err
	}
	m.stats.containerBytes.Add(-int64(size))
	return nil
}

func (m *manager) AddIOResult(bytes int64, d time.Duration) {
	m.stats.recordIO(bytes, d)
}

func (m *manager) AddMeshBytes(n int64) {
	m.stats.meshBytes.Add(n)
}

func (m *manager) AddTextureBytes(n int64) {
	m.stats.textureBytes.Add(n)
}

func (m *manager) AddUploadBytes(n int64) {
	m.stats.uploadBytes.Add(n)
}

func (m *manager) Stats() Stats {
	st := Stats{
		Frame:              m.frameNumber.Load(),
		InstanceCount:      m.table.len(),
		QueueLength:        m.queue.len(),
		PoolContents:       m.pool.PeekPoolContents(),
		PoolLiveBytes:      m.pool.LiveBytes(),
		PoolAllocatedBytes: m.pool.AllocatedBytes(),
	}
	m.stats.fill(&st)

	m.lifecycleMu.Lock()
	if m.dispatcher != nil && m.initialized.Load() {
		st.InFlightWork = m.dispatcher.InFlight()
	}
	m.lifecycleMu.Unlock()
	return st
}

func (m *manager) PendingRequests() []UpdateRequest {
	return m.queue.snapshot()
}

func (m *manager) MaxLOD() int {
	return m.maxLOD
}

func (m *manager) runCleanup(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pool.Cleanup()
		}
	}
}
