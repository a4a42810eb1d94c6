package holo_manager

import (
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/google/uuid"
)

// updateTimeWindow is the number of samples in every rolling update-time average.
const updateTimeWindow = 30

// slowestInstanceCount is how many instances Stats reports by average update time.
const slowestInstanceCount = 5

// RegisterOption adjusts a newly registered instance.
type RegisterOption func(*instance)

// AsEditorInstance marks the instance as belonging to the editor world. Editor instances are
// not scheduled while a play session is running.
func AsEditorInstance() RegisterOption {
	return func(i *instance) {
		i.editor = true
	}
}

type instance struct {
	handle    Handle
	component Component
	owner     Owner
	editor    bool

	visible           bool
	lod               int
	framesSinceUpdate int

	updateTime         *common.MovingAverage
	updateCount        int64
	lastCompletedFrame uint32
	hasCompleted       bool
}

// instanceView is a value copy of the fields the scheduler needs, taken under the table lock.
type instanceView struct {
	handle            Handle
	component         Component
	owner             Owner
	editor            bool
	visible           bool
	lod               int
	framesSinceUpdate int

	lastCompletedFrame uint32
	hasCompleted       bool
}

// InstanceInfo is an observability snapshot of one registered instance.
type InstanceInfo struct {
	Handle            Handle
	Name              string
	Editor            bool
	Visible           bool
	LOD               int
	FramesSinceUpdate int
	UpdateCount       int64
	AverageUpdateTime time.Duration
}

// InstanceTiming names an instance and its rolling average update time.
type InstanceTiming struct {
	Handle            Handle
	Name              string
	AverageUpdateTime time.Duration
}

type visibilityResult struct {
	handle  Handle
	visible bool
	lod     int
}

type instanceTable struct {
	mu      *sync.RWMutex
	entries map[Handle]*instance
}

func newInstanceTable() *instanceTable {
	return &instanceTable{
		mu:      &sync.RWMutex{},
		entries: make(map[Handle]*instance),
	}
}

// register returns the handle of an existing (component, owner) pair or creates a new entry.
func (t *instanceTable) register(component Component, owner Owner, opts ...RegisterOption) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for h, e := range t.entries {
		if e.component == component && e.owner == owner {
			return h, false
		}
	}

	inst := &instance{
		handle:     uuid.New(),
		component:  component,
		owner:      owner,
		visible:    true,
		updateTime: common.NewMovingAverage(updateTimeWindow),
	}
	for _, opt := range opts {
		opt(inst)
	}
	t.entries[inst.handle] = inst
	return inst.handle, true
}

func (t *instanceTable) remove(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[h]; !ok {
		return false
	}
	delete(t.entries, h)
	return true
}

// lookup returns a snapshot of a valid instance. Unknown handles and instances whose owner is
// no longer valid report false.
func (t *instanceTable) lookup(h Handle) (instanceView, bool) {
	t.mu.RLock()
	e, ok := t.entries[h]
	if !ok {
		t.mu.RUnlock()
		return instanceView{}, false
	}
	v := instanceView{
		handle:             e.handle,
		component:          e.component,
		owner:              e.owner,
		editor:             e.editor,
		visible:            e.visible,
		lod:                e.lod,
		framesSinceUpdate:  e.framesSinceUpdate,
		lastCompletedFrame: e.lastCompletedFrame,
		hasCompleted:       e.hasCompleted,
	}
	t.mu.RUnlock()

	if v.component == nil || v.owner == nil || !v.owner.Valid() {
		return instanceView{}, false
	}
	return v, true
}

func (t *instanceTable) contains(h Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[h]
	return ok
}

func (t *instanceTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// recordCompletion resets the starvation counter and folds the update time into the average.
func (t *instanceTable) recordCompletion(h Handle, elapsed time.Duration, frame uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return
	}
	e.framesSinceUpdate = 0
	e.updateTime.Add(elapsed)
	e.updateCount++
	if !e.hasCompleted || frame > e.lastCompletedFrame {
		e.lastCompletedFrame = frame
	}
	e.hasCompleted = true
}

// recordDeferral increments the starvation counter and returns its new value.
func (t *instanceTable) recordDeferral(h Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return 0
	}
	e.framesSinceUpdate++
	return e.framesSinceUpdate
}

// views returns snapshots of every entry, valid or not.
func (t *instanceTable) views() []instanceView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]instanceView, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, instanceView{
			handle:    e.handle,
			component: e.component,
			owner:     e.owner,
			editor:    e.editor,
		})
	}
	return out
}

// applyVisibility stores culling and LOD results for handles still registered.
func (t *instanceTable) applyVisibility(results []visibilityResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range results {
		if e, ok := t.entries[r.handle]; ok {
			e.visible = r.visible
			e.lod = r.lod
		}
	}
}

func (t *instanceTable) infos() []InstanceInfo {
	t.mu.RLock()
	out := make([]InstanceInfo, 0, len(t.entries))
	owners := make([]Owner, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, InstanceInfo{
			Handle:            e.handle,
			Editor:            e.editor,
			Visible:           e.visible,
			LOD:               e.lod,
			FramesSinceUpdate: e.framesSinceUpdate,
			UpdateCount:       e.updateCount,
			AverageUpdateTime: e.updateTime.Average(),
		})
		owners = append(owners, e.owner)
	}
	t.mu.RUnlock()

	for i, o := range owners {
		if o != nil && o.Valid() {
			out[i].Name = o.Name()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// slowest returns up to n instances ordered by descending average update time.
func (t *instanceTable) slowest(n int) []InstanceTiming {
	infos := t.infos()
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].AverageUpdateTime > infos[j].AverageUpdateTime
	})
	out := make([]InstanceTiming, 0, n)
	for _, info := range infos {
		if len(out) == n {
			break
		}
		if info.UpdateCount == 0 {
			continue
		}
		out = append(out, InstanceTiming{
			Handle:            info.Handle,
			Name:              info.Name,
			AverageUpdateTime: info.AverageUpdateTime,
		})
	}
	return out
}
