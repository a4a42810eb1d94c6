package holo_manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/memory_pool"
	"github.com/Carmen-Shannon/oxy-holo/engine/work_dispatcher"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeOwner struct {
	name     string
	position [3]float32
	hidden   bool
	valid    bool
}

func newOwner(name string) *fakeOwner {
	return &fakeOwner{name: name, valid: true}
}

func (o *fakeOwner) Name() string         { return o.name }
func (o *fakeOwner) Position() [3]float32 { return o.position }
func (o *fakeOwner) Hidden() bool         { return o.hidden }
func (o *fakeOwner) Valid() bool          { return o.valid }

type fakeComponent struct {
	mu        sync.Mutex
	lod       int
	cost      time.Duration
	clock     *fakeClock
	failWith  error
	panicWith any

	updates   []UpdateRequest
	endFrames []UpdateRequest
	culls     []UpdateRequest
	work      chan [2]int
	freed     int
}

func (c *fakeComponent) UpdateRenderThread(req UpdateRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock != nil {
		c.clock.Advance(c.cost)
	}
	if c.panicWith != nil {
		panic(c.panicWith)
	}
	if c.failWith != nil {
		return c.failWith
	}
	c.updates = append(c.updates, req)
	return nil
}

func (c *fakeComponent) EndFrameRenderThread(req UpdateRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endFrames = append(c.endFrames, req)
}

func (c *fakeComponent) RequestCulled(req UpdateRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.culls = append(c.culls, req)
}

func (c *fakeComponent) DoThreadedWork(sequenceIndex, frameIndex int) error {
	if c.work != nil {
		c.work <- [2]int{sequenceIndex, frameIndex}
	}
	return nil
}

func (c *fakeComponent) ComputeLOD(View) int { return c.lod }

func (c *fakeComponent) Bounds() common.Bounds {
	return common.Bounds{Extent: [3]float32{1, 1, 1}}
}

func (c *fakeComponent) FreeUnusedMemory() {
	c.mu.Lock()
	c.freed++
	c.mu.Unlock()
}

func (c *fakeComponent) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

type fakeView struct {
	frustum common.Frustum
}

func (v fakeView) Position() [3]float32     { return [3]float32{} }
func (v fakeView) Frustum() common.Frustum  { return v.frustum }
func (v fakeView) ProjectionScale() float32 { return 1 }

// positiveXView keeps only boxes reaching x >= 0.
func positiveXView() fakeView {
	var f common.Frustum
	f.Planes[common.FrustumLeft] = common.Plane{Normal: [3]float32{1, 0, 0}}
	return fakeView{frustum: f}
}

func newTestManager(t *testing.T, opts ...ManagerBuilderOption) Manager {
	t.Helper()
	m := NewManager(opts...)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(m.Shutdown)
	return m
}

func instanceInfo(t *testing.T, m Manager, h Handle) InstanceInfo {
	t.Helper()
	for _, info := range m.Instances() {
		if info.Handle == h {
			return info
		}
	}
	t.Fatalf("instance %s not registered", h)
	return InstanceInfo{}
}

func TestPriorityFormula(t *testing.T) {
	assert.Equal(t, 3.0, Priority(3, 0, 0))
	assert.Equal(t, 12.0, Priority(3, 1, 5))
	assert.Equal(t, 0.0, Priority(3, 3, 100))
	assert.Equal(t, 2.0, Priority(2, 0, 0))
	assert.Equal(t, 0.0, Priority(2, 2, 5))
}

func TestRegisterIsIdempotent(t *testing.T) {
	m := NewManager()
	comp, owner := &fakeComponent{}, newOwner("actor")

	h1, err := m.Register(comp, owner)
	require.NoError(t, err)
	h2, err := m.Register(comp, owner)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, m.Instances(), 1)

	h3, err := m.Register(&fakeComponent{}, owner)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	_, err = m.Register(nil, owner)
	assert.ErrorIs(t, err, ErrNilComponent)
	_, err = m.Register(comp, nil)
	assert.ErrorIs(t, err, ErrNilComponent)

	m.Unregister(h1)
	m.Unregister(h1)
	m.Unregister(uuid.New())
	assert.Len(t, m.Instances(), 1)
}

func TestRequestsBeforeInitialize(t *testing.T) {
	m := NewManager()
	h, err := m.Register(&fakeComponent{}, newOwner("actor"))
	require.NoError(t, err)

	assert.ErrorIs(t, m.AddUpdateRequest(h, 0, 1), ErrNotInitialized)
	assert.ErrorIs(t, m.AddWorkRequest(h, 0, 1), ErrNotInitialized)
	assert.Empty(t, m.PendingRequests())
	assert.Zero(t, m.BeginFrame().Completed)
}

func TestInvalidHandlesAreRejected(t *testing.T) {
	m := newTestManager(t)
	assert.ErrorIs(t, m.AddUpdateRequest(uuid.Nil, 0, 1), ErrInvalidHandle)
	assert.ErrorIs(t, m.AddUpdateRequest(uuid.New(), 0, 1), ErrInvalidHandle)
	assert.ErrorIs(t, m.AddWorkRequest(uuid.New(), 0, 1), ErrInvalidHandle)
	assert.Empty(t, m.PendingRequests())
}

func TestLatestRequestWinsPerHandle(t *testing.T) {
	m := newTestManager(t)
	h, err := m.Register(&fakeComponent{}, newOwner("actor"))
	require.NoError(t, err)
	other, err := m.Register(&fakeComponent{}, newOwner("other"))
	require.NoError(t, err)

	for frame := 0; frame < 10; frame++ {
		m.SetFrameNumber(uint32(100 + frame))
		require.NoError(t, m.AddUpdateRequest(h, frame%3, frame))
	}
	require.NoError(t, m.AddUpdateRequest(other, 1, 1))

	pending := m.PendingRequests()
	require.Len(t, pending, 2)
	assert.Equal(t, h, pending[0].Handle)
	assert.Equal(t, 0, pending[0].SequenceIndex)
	assert.Equal(t, 9, pending[0].FrameIndex)
	assert.Equal(t, uint32(109), pending[0].RequestedFrameNumber)
	assert.Equal(t, other, pending[1].Handle)
}

func TestScenarioSingleUpdateCompletes(t *testing.T) {
	m := newTestManager(t, WithSettings(Settings{FrameUpdateLimit: time.Second}))
	comp := &fakeComponent{}
	h, err := m.Register(comp, newOwner("x"))
	require.NoError(t, err)

	m.SetFrameNumber(100)
	require.NoError(t, m.AddUpdateRequest(h, 0, 5))
	m.UpdateVisibilityAndLOD(fakeView{})

	res := m.BeginFrame()
	assert.Equal(t, ModePriority, res.Mode)
	assert.Equal(t, uint32(100), res.Frame)
	assert.Equal(t, 1, res.Completed)
	assert.Zero(t, res.Deferred)
	require.Len(t, comp.updates, 1)
	assert.Equal(t, 5, comp.updates[0].FrameIndex)

	assert.Equal(t, 1, m.EndFrame())
	assert.Zero(t, m.EndFrame())
	require.Len(t, comp.endFrames, 1)
	assert.Equal(t, 5, comp.endFrames[0].FrameIndex)

	info := instanceInfo(t, m, h)
	assert.Zero(t, info.FramesSinceUpdate)
	assert.Equal(t, int64(1), info.UpdateCount)
	assert.Empty(t, m.PendingRequests())
}

func TestScenarioBudgetPrefersHigherPriority(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t,
		WithMaxLOD(2),
		WithClock(clock.Now),
		WithSettings(Settings{FrameUpdateLimit: 2 * time.Millisecond}),
	)
	x := &fakeComponent{lod: 0, clock: clock, cost: 3 * time.Millisecond}
	y := &fakeComponent{lod: 2, clock: clock, cost: 3 * time.Millisecond}
	hy, err := m.Register(y, newOwner("y"))
	require.NoError(t, err)
	hx, err := m.Register(x, newOwner("x"))
	require.NoError(t, err)

	m.UpdateVisibilityAndLOD(fakeView{})
	mgr := m.(*manager)
	mgr.table.mu.Lock()
	mgr.table.entries[hy].framesSinceUpdate = 5
	mgr.table.mu.Unlock()

	require.NoError(t, m.AddUpdateRequest(hy, 0, 1))
	require.NoError(t, m.AddUpdateRequest(hx, 0, 1))

	res := m.BeginFrame()
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Deferred)
	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 1, x.updateCount())
	assert.Zero(t, y.updateCount())

	assert.Zero(t, instanceInfo(t, m, hx).FramesSinceUpdate)
	assert.Equal(t, 6, instanceInfo(t, m, hy).FramesSinceUpdate)

	pending := m.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, hy, pending[0].Handle)

	st := m.Stats()
	assert.Equal(t, 3*time.Millisecond, st.LastBreakTime)
	assert.Equal(t, 6, st.MaxFramesSinceUpdate)
}

func TestScenarioUnregisterWhileQueued(t *testing.T) {
	m := newTestManager(t)
	comp := &fakeComponent{}
	h, err := m.Register(comp, newOwner("x"))
	require.NoError(t, err)
	require.NoError(t, m.AddUpdateRequest(h, 0, 1))

	m.Unregister(h)
	assert.Empty(t, m.PendingRequests())

	res := m.BeginFrame()
	assert.Zero(t, res.Completed)
	assert.Zero(t, m.EndFrame())
	assert.Zero(t, comp.updateCount())
}

func TestUnregisterScrubsEndFrameQueue(t *testing.T) {
	m := newTestManager(t)
	comp := &fakeComponent{}
	h, err := m.Register(comp, newOwner("x"))
	require.NoError(t, err)
	require.NoError(t, m.AddUpdateRequest(h, 0, 1))
	require.Equal(t, 1, m.BeginFrame().Completed)

	m.Unregister(h)
	assert.Zero(t, m.EndFrame())
	assert.Empty(t, comp.endFrames)
}

func TestInvalidOwnerIsDropped(t *testing.T) {
	m := newTestManager(t)
	comp, owner := &fakeComponent{}, newOwner("x")
	h, err := m.Register(comp, owner)
	require.NoError(t, err)
	require.NoError(t, m.AddUpdateRequest(h, 0, 1))

	owner.valid = false
	res := m.BeginFrame()
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, comp.updateCount())
}

func TestLowerLODIsNeverMoreStarved(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t,
		WithClock(clock.Now),
		WithSettings(Settings{FrameUpdateLimit: time.Millisecond}),
	)
	detailed := &fakeComponent{lod: 0, clock: clock, cost: 2 * time.Millisecond}
	coarse := &fakeComponent{lod: 1, clock: clock, cost: 2 * time.Millisecond}
	hd, err := m.Register(detailed, newOwner("detailed"))
	require.NoError(t, err)
	hc, err := m.Register(coarse, newOwner("coarse"))
	require.NoError(t, err)
	m.UpdateVisibilityAndLOD(fakeView{})

	const frames = 60
	var detailedSum, coarseSum, worst int
	for frame := 1; frame <= frames; frame++ {
		m.AdvanceFrame()
		require.NoError(t, m.AddUpdateRequest(hd, 0, frame))
		require.NoError(t, m.AddUpdateRequest(hc, 0, frame))

		res := m.BeginFrame()
		require.Equal(t, 1, res.Completed, "frame %d", frame)
		m.EndFrame()

		d := instanceInfo(t, m, hd).FramesSinceUpdate
		c := instanceInfo(t, m, hc).FramesSinceUpdate
		detailedSum += d
		coarseSum += c
		worst = max(worst, d, c)
	}

	assert.LessOrEqual(t, detailedSum, coarseSum)
	assert.LessOrEqual(t, worst, 2)
	assert.GreaterOrEqual(t, detailed.updateCount(), coarse.updateCount())
	assert.Positive(t, coarse.updateCount())
}

func TestCulledRequestsResolveWithoutUpdate(t *testing.T) {
	m := newTestManager(t)
	far := &fakeComponent{lod: 1}
	near := &fakeComponent{lod: 0}
	hidden := &fakeComponent{lod: 0}

	farOwner := newOwner("far")
	farOwner.position = [3]float32{-10, 0, 0}
	nearOwner := newOwner("near")
	nearOwner.position = [3]float32{-10, 0, 0}
	hiddenOwner := newOwner("hidden")
	hiddenOwner.hidden = true

	hf, err := m.Register(far, farOwner)
	require.NoError(t, err)
	hn, err := m.Register(near, nearOwner)
	require.NoError(t, err)
	hh, err := m.Register(hidden, hiddenOwner)
	require.NoError(t, err)

	m.UpdateVisibilityAndLOD(positiveXView())
	assert.False(t, instanceInfo(t, m, hf).Visible)
	assert.False(t, instanceInfo(t, m, hn).Visible)
	assert.True(t, instanceInfo(t, m, hh).Visible)

	for _, h := range []Handle{hf, hn, hh} {
		require.NoError(t, m.AddUpdateRequest(h, 0, 3))
	}
	res := m.BeginFrame()
	assert.Equal(t, 2, res.Culled)
	assert.Equal(t, 1, res.Completed)

	assert.Len(t, far.culls, 1)
	assert.Len(t, hidden.culls, 1)
	assert.Zero(t, far.updateCount())
	assert.Equal(t, 1, near.updateCount(), "LOD 0 instances update even when outside the frustum")

	assert.Empty(t, m.PendingRequests())
	assert.Zero(t, instanceInfo(t, m, hf).FramesSinceUpdate)
	assert.Equal(t, int64(2), m.Stats().CulledCount)
}

func TestVisibilityWithoutCulling(t *testing.T) {
	m := newTestManager(t, WithMaxLOD(2), WithSettings(Settings{}))
	owner := newOwner("far")
	owner.position = [3]float32{-10, 0, 0}
	h, err := m.Register(&fakeComponent{lod: 7}, owner)
	require.NoError(t, err)
	_, err = m.Register(&fakeComponent{lod: -1}, newOwner("close"))
	require.NoError(t, err)

	m.UpdateVisibilityAndLOD(positiveXView())
	info := instanceInfo(t, m, h)
	assert.True(t, info.Visible)
	assert.Equal(t, 2, info.LOD)

	st := m.Stats()
	assert.Equal(t, 2, st.VisibleCount)
	assert.Equal(t, []int{1, 0, 1}, st.LODCounts)
}

func TestImmediateModeDropsStaleFrames(t *testing.T) {
	m := newTestManager(t, WithSettings(Settings{ImmediateMode: true}))
	comp := &fakeComponent{}
	h, err := m.Register(comp, newOwner("x"))
	require.NoError(t, err)

	m.SetFrameNumber(5)
	require.NoError(t, m.AddUpdateRequest(h, 0, 50))
	m.SetFrameNumber(6)
	require.NoError(t, m.AddUpdateRequest(h, 0, 60))
	require.Len(t, m.PendingRequests(), 2)

	res := m.BeginFrame()
	assert.Equal(t, ModeImmediate, res.Mode)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Completed)
	require.Len(t, comp.updates, 1)
	assert.Equal(t, uint32(6), comp.updates[0].RequestedFrameNumber)
	m.EndFrame()

	m.SetFrameNumber(8)
	require.NoError(t, m.AddUpdateRequest(h, 0, 80))
	require.Equal(t, 1, m.BeginFrame().Completed)
	m.SetFrameNumber(7)
	require.NoError(t, m.AddUpdateRequest(h, 0, 70))
	m.SetFrameNumber(9)
	res = m.BeginFrame()
	assert.Equal(t, 1, res.Dropped)
	assert.Zero(t, res.Completed)

	for i := 1; i < len(comp.updates); i++ {
		assert.Greater(t, comp.updates[i].RequestedFrameNumber, comp.updates[i-1].RequestedFrameNumber)
	}
}

func TestImmediateModeExecutesAllCurrentRequests(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t,
		WithClock(clock.Now),
		WithSettings(Settings{ImmediateMode: true, FrameUpdateLimit: time.Millisecond}),
	)
	var comps []*fakeComponent
	m.SetFrameNumber(3)
	for i := 0; i < 4; i++ {
		c := &fakeComponent{lod: 3, clock: clock, cost: 5 * time.Millisecond}
		comps = append(comps, c)
		h, err := m.Register(c, newOwner("x"))
		require.NoError(t, err)
		require.NoError(t, m.AddUpdateRequest(h, 0, 1))
	}

	res := m.BeginFrame()
	assert.Equal(t, 4, res.Completed)
	assert.False(t, res.BudgetExhausted)
	for _, c := range comps {
		assert.Equal(t, 1, c.updateCount())
	}
}

func TestFutureRequestsAreDeferred(t *testing.T) {
	m := newTestManager(t, WithSettings(Settings{ImmediateMode: true}))
	comp := &fakeComponent{}
	h, err := m.Register(comp, newOwner("x"))
	require.NoError(t, err)

	m.SetFrameNumber(10)
	require.NoError(t, m.AddUpdateRequest(h, 0, 1))
	m.SetFrameNumber(9)

	res := m.BeginFrame()
	assert.Equal(t, 1, res.Deferred)
	assert.Zero(t, comp.updateCount())
	assert.Len(t, m.PendingRequests(), 1)

	m.SetFrameNumber(10)
	assert.Equal(t, 1, m.BeginFrame().Completed)
}

func TestEditorModeIgnoresBudget(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t,
		WithClock(clock.Now),
		WithSettings(Settings{EditorPreview: true, FrameUpdateLimit: time.Millisecond}),
	)
	var handles []Handle
	var comps []*fakeComponent
	for i := 0; i < 3; i++ {
		c := &fakeComponent{clock: clock, cost: 10 * time.Millisecond}
		h, err := m.Register(c, newOwner("preview"), AsEditorInstance())
		require.NoError(t, err)
		handles = append(handles, h)
		comps = append(comps, c)
	}

	for _, h := range handles {
		require.NoError(t, m.AddUpdateRequest(h, 0, 1))
	}
	res := m.BeginFrame()
	assert.Equal(t, ModeEditor, res.Mode)
	assert.Equal(t, 3, res.Completed)

	m.BeginPlaySession()
	for _, h := range handles {
		require.NoError(t, m.AddUpdateRequest(h, 0, 2))
	}
	res = m.BeginFrame()
	assert.Equal(t, ModePriority, res.Mode)
	assert.Equal(t, 3, res.Dropped, "editor instances do not run during play")
	for _, c := range comps {
		assert.Equal(t, 1, c.updateCount())
		assert.Equal(t, 1, c.freed)
	}

	m.EndPlaySession()
	require.NoError(t, m.AddUpdateRequest(handles[0], 0, 3))
	assert.Equal(t, ModeEditor, m.BeginFrame().Mode)
}

func TestFailedUpdatesAreDeferred(t *testing.T) {
	m := newTestManager(t)
	failing := &fakeComponent{failWith: errors.New("frame not decoded")}
	panicking := &fakeComponent{panicWith: "bad index buffer"}
	healthy := &fakeComponent{}

	hf, err := m.Register(failing, newOwner("failing"))
	require.NoError(t, err)
	hp, err := m.Register(panicking, newOwner("panicking"))
	require.NoError(t, err)
	hh, err := m.Register(healthy, newOwner("healthy"))
	require.NoError(t, err)

	for _, h := range []Handle{hf, hp, hh} {
		require.NoError(t, m.AddUpdateRequest(h, 0, 1))
	}
	res := m.BeginFrame()
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Deferred)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, healthy.updateCount())

	assert.Equal(t, 1, instanceInfo(t, m, hf).FramesSinceUpdate)
	assert.Equal(t, 1, instanceInfo(t, m, hp).FramesSinceUpdate)
	assert.Len(t, m.PendingRequests(), 2)

	failing.mu.Lock()
	failing.failWith = nil
	failing.mu.Unlock()
	res = m.BeginFrame()
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(3), m.Stats().FailedCount)
}

func TestEqualPrioritiesRunInEnqueueOrder(t *testing.T) {
	permutations := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for iteration := 0; iteration < 5; iteration++ {
		for _, perm := range permutations {
			clock := newFakeClock()
			m := newTestManager(t,
				WithClock(clock.Now),
				WithSettings(Settings{FrameUpdateLimit: time.Millisecond}),
			)
			comps := make([]*fakeComponent, 3)
			handles := make([]Handle, 3)
			for i := range comps {
				comps[i] = &fakeComponent{clock: clock, cost: 2 * time.Millisecond}
				h, err := m.Register(comps[i], newOwner(fmt.Sprintf("c%d", i)))
				require.NoError(t, err)
				handles[i] = h
			}
			m.UpdateVisibilityAndLOD(fakeView{})
			for _, i := range perm {
				require.NoError(t, m.AddUpdateRequest(handles[i], 0, 1))
			}

			ran := func() int {
				t.Helper()
				res := m.BeginFrame()
				require.Equal(t, 1, res.Completed)
				m.EndFrame()
				for i, c := range comps {
					if c.updateCount() == 1 && len(c.endFrames) == 1 {
						c.endFrames = nil
						return i
					}
				}
				t.Fatal("no component ran")
				return -1
			}

			assert.Equal(t, perm[0], ran(), "iteration %d order %v", iteration, perm)

			// a late arrival tied with the deferred requests still queues behind them
			late := &fakeComponent{clock: clock, cost: 2 * time.Millisecond}
			hl, err := m.Register(late, newOwner("late"))
			require.NoError(t, err)
			m.UpdateVisibilityAndLOD(fakeView{})
			mgr := m.(*manager)
			mgr.table.mu.Lock()
			mgr.table.entries[hl].framesSinceUpdate = 1
			mgr.table.mu.Unlock()
			require.NoError(t, m.AddUpdateRequest(hl, 0, 1))

			assert.Equal(t, perm[1], ran(), "iteration %d order %v", iteration, perm)
			assert.Equal(t, perm[2], ran(), "iteration %d order %v", iteration, perm)
			assert.Zero(t, late.updateCount())
			assert.Equal(t, 1, m.BeginFrame().Completed)
			assert.Equal(t, 1, late.updateCount())
		}
	}
}

// unregisteringComponent removes itself from its manager inside one callback.
type unregisteringComponent struct {
	*fakeComponent
	m      Manager
	handle Handle
	during string
}

func (c *unregisteringComponent) UpdateRenderThread(req UpdateRequest) error {
	if c.during == "update" {
		c.m.Unregister(c.handle)
	}
	return c.fakeComponent.UpdateRenderThread(req)
}

func (c *unregisteringComponent) EndFrameRenderThread(req UpdateRequest) {
	if c.during == "end_frame" {
		c.m.Unregister(c.handle)
	}
	c.fakeComponent.EndFrameRenderThread(req)
}

func (c *unregisteringComponent) RequestCulled(req UpdateRequest) {
	if c.during == "culled" {
		c.m.Unregister(c.handle)
	}
	c.fakeComponent.RequestCulled(req)
}

func TestUnregisterFromCallback(t *testing.T) {
	tests := []struct {
		name      string
		during    string
		fail      bool
		hidden    bool
		endFrames int
	}{
		{name: "update", during: "update"},
		{name: "failed update", during: "update", fail: true},
		{name: "culled", during: "culled", hidden: true},
		{name: "end frame", during: "end_frame", endFrames: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			comp := &unregisteringComponent{fakeComponent: &fakeComponent{}, m: m, during: tt.during}
			if tt.fail {
				comp.failWith = errors.New("boom")
			}
			owner := newOwner("x")
			owner.hidden = tt.hidden
			h, err := m.Register(comp, owner)
			require.NoError(t, err)
			comp.handle = h
			other := &fakeComponent{}
			ho, err := m.Register(other, newOwner("other"))
			require.NoError(t, err)

			require.NoError(t, m.AddUpdateRequest(h, 0, 1))
			require.NoError(t, m.AddUpdateRequest(ho, 0, 1))

			done := make(chan int, 1)
			go func() {
				m.BeginFrame()
				done <- m.EndFrame()
			}()
			select {
			case calls := <-done:
				assert.Equal(t, 1+tt.endFrames, calls)
			case <-time.After(2 * time.Second):
				t.Fatal("pass deadlocked on Unregister")
			}

			require.Len(t, m.Instances(), 1)
			assert.Equal(t, ho, m.Instances()[0].Handle)
			assert.Empty(t, m.PendingRequests())
			assert.Equal(t, tt.endFrames, len(comp.endFrames))
			assert.Equal(t, 1, other.updateCount())

			assert.ErrorIs(t, m.AddUpdateRequest(h, 0, 2), ErrInvalidHandle)
			m.Unregister(h)
			assert.Zero(t, m.BeginFrame().Completed)
		})
	}
}

func TestDeferredRequestYieldsToNewerArrival(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t,
		WithClock(clock.Now),
		WithSettings(Settings{FrameUpdateLimit: time.Millisecond}),
	)
	first := &fakeComponent{clock: clock, cost: 2 * time.Millisecond}
	second := &fakeComponent{lod: 1}
	h1, err := m.Register(first, newOwner("first"))
	require.NoError(t, err)
	h2, err := m.Register(second, newOwner("second"))
	require.NoError(t, err)
	m.UpdateVisibilityAndLOD(fakeView{})

	require.NoError(t, m.AddUpdateRequest(h1, 0, 1))
	require.NoError(t, m.AddUpdateRequest(h2, 0, 1))
	require.Equal(t, 1, m.BeginFrame().Deferred)

	require.NoError(t, m.AddUpdateRequest(h2, 0, 2))
	pending := m.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].FrameIndex)
}

func TestThreadedWorkRunsOnDispatcher(t *testing.T) {
	m := newTestManager(t, WithDispatcherOptions(work_dispatcher.WithWorkers(2)))
	comp := &fakeComponent{work: make(chan [2]int, 1)}
	h, err := m.Register(comp, newOwner("x"))
	require.NoError(t, err)

	require.NoError(t, m.AddWorkRequest(h, 2, 42))
	select {
	case got := <-comp.work:
		assert.Equal(t, [2]int{2, 42}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("threaded work never ran")
	}
}

func TestBlocksAndResourceCounters(t *testing.T) {
	pool := memory_pool.NewMemoryPool(memory_pool.WithBlockGranularity(1024))
	m := newTestManager(t, WithMemoryPool(pool))

	b, err := m.AllocBlock(1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), m.Stats().TotalContainerBytes)
	assert.Equal(t, int64(1024), m.Stats().PoolLiveBytes)

	m.AddMeshBytes(300)
	m.AddTextureBytes(200)
	m.AddUploadBytes(500)
	m.AddIOResult(4096, 3*time.Millisecond)

	st := m.Stats()
	assert.Equal(t, int64(300), st.TotalMeshBytes)
	assert.Equal(t, int64(200), st.TotalTextureBytes)
	assert.Equal(t, int64(500), st.TotalUploadBytes)
	assert.Equal(t, int64(4096), st.TotalIOBytes)
	assert.Equal(t, 3*time.Millisecond, st.IOMaxTime)
	assert.Len(t, st.LODCounts, DefaultMaxLOD+1)

	require.NoError(t, m.FreeBlock(b))
	assert.Zero(t, m.Stats().TotalContainerBytes)
	assert.Zero(t, m.Stats().PoolLiveBytes)
	assert.ErrorIs(t, m.FreeBlock(b), memory_pool.ErrDoubleFree)
}

func TestFPSAndRates(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, WithClock(clock.Now))

	m.AddUploadBytes(2000)
	for i := 0; i < 10; i++ {
		clock.Advance(100 * time.Millisecond)
		m.EndFrame()
	}
	st := m.Stats()
	assert.InDelta(t, 10.0, st.FPS, 0.001)
	assert.InDelta(t, 2000.0, st.UploadBytesPerSecond, 0.001)
}

func TestSlowestInstances(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, WithClock(clock.Now), WithSettings(Settings{}))
	fast := &fakeComponent{clock: clock, cost: time.Millisecond}
	slow := &fakeComponent{clock: clock, cost: 5 * time.Millisecond}
	hf, err := m.Register(fast, newOwner("fast"))
	require.NoError(t, err)
	hs, err := m.Register(slow, newOwner("slow"))
	require.NoError(t, err)

	require.NoError(t, m.AddUpdateRequest(hf, 0, 1))
	require.NoError(t, m.AddUpdateRequest(hs, 0, 1))
	require.Equal(t, 2, m.BeginFrame().Completed)
	m.UpdateVisibilityAndLOD(fakeView{})

	st := m.Stats()
	require.Len(t, st.SlowestInstances, 2)
	assert.Equal(t, "slow", st.SlowestInstances[0].Name)
	assert.Equal(t, 5*time.Millisecond, st.SlowestInstances[0].AverageUpdateTime)
	assert.Equal(t, int64(2), st.TotalUpdates)
	assert.Equal(t, 2, st.UpdateCount)
}

func TestShutdownClearsQueueAndIsIdempotent(t *testing.T) {
	m := NewManager(WithCleanupInterval(time.Millisecond))
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	h, err := m.Register(&fakeComponent{}, newOwner("x"))
	require.NoError(t, err)
	require.NoError(t, m.AddUpdateRequest(h, 0, 1))

	m.Shutdown()
	m.Shutdown()
	assert.False(t, m.Initialized())
	assert.Empty(t, m.PendingRequests())
	assert.Len(t, m.Instances(), 1)

	require.NoError(t, m.Initialize(context.Background()))
	defer m.Shutdown()
	assert.NoError(t, m.AddUpdateRequest(h, 0, 2))
}

func TestConcurrentProducersAndUnregister(t *testing.T) {
	m := newTestManager(t, WithSettings(Settings{}))
	comps := make([]*fakeComponent, 8)
	handles := make([]Handle, 8)
	for i := range comps {
		comps[i] = &fakeComponent{}
		h, err := m.Register(comps[i], newOwner("x"))
		require.NoError(t, err)
		handles[i] = h
	}

	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h Handle) {
			defer wg.Done()
			for frame := 0; frame < 200; frame++ {
				_ = m.AddUpdateRequest(h, 0, frame)
				if i%2 == 1 && frame == 100 {
					m.Unregister(h)
				}
			}
		}(i, h)
	}
	for frame := 0; frame < 50; frame++ {
		m.AdvanceFrame()
		m.BeginFrame()
		m.EndFrame()
	}
	wg.Wait()
	m.BeginFrame()
	m.EndFrame()

	for i, h := range handles {
		if i%2 == 1 {
			for _, r := range m.PendingRequests() {
				assert.NotEqual(t, h, r.Handle)
			}
		}
	}
	assert.Len(t, m.Instances(), 4)
}
