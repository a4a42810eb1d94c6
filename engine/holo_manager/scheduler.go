package holo_manager

import (
	"container/heap"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Mode selects the scheduling policy of a pass.
type Mode int

const (
	// ModePriority orders eligible requests by LOD and starvation under a time budget.
	ModePriority Mode = iota
	// ModeImmediate executes every current request in arrival order, dropping stale frames.
	ModeImmediate
	// ModeEditor executes every current request in arrival order for editor previews.
	ModeEditor
)

func (m Mode) String() string {
	switch m {
	case ModePriority:
		return "priority"
	case ModeImmediate:
		return "immediate"
	case ModeEditor:
		return "editor"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

type prioritizedRequest struct {
	req      UpdateRequest
	priority float64
}

// priorityQueue is a max-heap on priority; equal priorities pop in enqueue order.
type priorityQueue []prioritizedRequest

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].req.order < q[j].req.order
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) { *q = append(*q, x.(prioritizedRequest)) }

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Priority returns the scheduling priority of an instance: higher detail and longer starvation
// both raise it.
//
// Parameters:
//   - maxLOD: the LOD constant of the formula
//   - lod: the instance's current LOD
//   - framesSinceUpdate: frames since the instance last completed an update
//
// Returns:
//   - float64: (maxLOD - lod) * (framesSinceUpdate + 1)
func Priority(maxLOD, lod, framesSinceUpdate int) float64 {
	return float64(maxLOD-lod) * float64(framesSinceUpdate+1)
}

// pass holds the working state of one scheduling pass.
type pass struct {
	result    PassResult
	completed []UpdateRequest
	deferred  []UpdateRequest
	start     time.Time
	breakTime time.Duration
	maxStarve int
}

func (p *pass) deferRequest(m *manager, req UpdateRequest) {
	starve := m.table.recordDeferral(req.Handle)
	if starve > p.maxStarve {
		p.maxStarve = starve
	}
	p.deferred = append(p.deferred, req)
	p.result.Deferred++
}

// runEditorPass executes every request that is not ahead of the current frame.
func (m *manager) runEditorPass(p *pass, reqs []UpdateRequest, current uint32) {
	for _, req := range reqs {
		if _, ok := m.table.lookup(req.Handle); !ok {
			p.result.Dropped++
			continue
		}
		if req.RequestedFrameNumber > current {
			p.deferRequest(m, req)
			continue
		}
		m.execute(p, req)
	}
}

// runImmediatePass executes requests in arrival order. Stale requests are dropped when a newer
// frame for the same instance is queued or has already been presented.
func (m *manager) runImmediatePass(p *pass, reqs []UpdateRequest, current uint32) {
	newest := make(map[Handle]uint32, len(reqs))
	for _, req := range reqs {
		if n, ok := newest[req.Handle]; !ok || req.RequestedFrameNumber > n {
			newest[req.Handle] = req.RequestedFrameNumber
		}
	}

	for _, req := range reqs {
		inst, ok := m.table.lookup(req.Handle)
		if !ok {
			p.result.Dropped++
			continue
		}
		if req.RequestedFrameNumber < current {
			supersededInQueue := newest[req.Handle] > req.RequestedFrameNumber
			alreadyPresented := inst.hasCompleted && inst.lastCompletedFrame > req.RequestedFrameNumber
			if supersededInQueue || alreadyPresented {
				m.log.Warn("dropping stale update request",
					zap.String("handle", req.Handle.String()),
					zap.Uint32("requested_frame", req.RequestedFrameNumber),
					zap.Uint32("current_frame", current),
					zap.Int("frame_index", req.FrameIndex),
				)
				p.result.Dropped++
				continue
			}
		}
		if req.RequestedFrameNumber > current {
			p.deferRequest(m, req)
			continue
		}
		m.execute(p, req)
	}
}

// runPriorityPass executes eligible requests in descending priority until the budget is spent.
func (m *manager) runPriorityPass(p *pass, reqs []UpdateRequest, budget time.Duration) {
	playing := m.playing.Load()
	pq := make(priorityQueue, 0, len(reqs))

	for _, req := range reqs {
		inst, ok := m.table.lookup(req.Handle)
		if !ok || (playing && inst.editor) {
			p.result.Dropped++
			continue
		}
		if (inst.lod > 0 && !inst.visible) || inst.owner.Hidden() {
			m.culled(p, inst, req)
			continue
		}
		if inst.framesSinceUpdate > p.maxStarve {
			p.maxStarve = inst.framesSinceUpdate
		}
		pq = append(pq, prioritizedRequest{
			req:      req,
			priority: Priority(m.maxLOD, inst.lod, inst.framesSinceUpdate),
		})
	}
	heap.Init(&pq)

	for pq.Len() > 0 {
		item := heap.Pop(&pq).(prioritizedRequest)
		if p.result.BudgetExhausted {
			if m.table.contains(item.req.Handle) {
				p.deferRequest(m, item.req)
			} else {
				p.result.Dropped++
			}
			continue
		}

		m.execute(p, item.req)

		if elapsed := m.now().Sub(p.start); budget > 0 && elapsed > budget {
			p.result.BudgetExhausted = true
			p.breakTime = elapsed
		}
	}
}

// culled notifies an instance that its request was resolved without an update.
func (m *manager) culled(p *pass, inst instanceView, req UpdateRequest) {
	p.result.Culled++
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("culled callback panicked",
				zap.String("handle", req.Handle.String()),
				zap.Any("panic", r),
			)
		}
	}()
	inst.component.RequestCulled(req)
}

// execute runs one update. The handle is looked up again right before the call so requests for
// instances unregistered mid-pass never execute. Failures defer the request.
func (m *manager) execute(p *pass, req UpdateRequest) {
	inst, ok := m.table.lookup(req.Handle)
	if !ok {
		p.result.Dropped++
		return
	}

	start := m.now()
	err := safeUpdate(inst.component, req)
	elapsed := m.now().Sub(start)

	if err != nil {
		p.result.Failed++
		m.log.Debug("update deferred after failure",
			zap.String("handle", req.Handle.String()),
			zap.Int("sequence", req.SequenceIndex),
			zap.Int("frame", req.FrameIndex),
			zap.Error(err),
		)
		p.deferRequest(m, req)
		return
	}

	m.table.recordCompletion(req.Handle, elapsed, req.RequestedFrameNumber)
	p.completed = append(p.completed, req)
	p.result.Completed++
}

func safeUpdate(c Component, req UpdateRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panicked: %v", r)
		}
	}()
	return c.UpdateRenderThread(req)
}

func safeEndFrame(c Component, req UpdateRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("end frame panicked: %v", r)
		}
	}()
	c.EndFrameRenderThread(req)
	return nil
}
