package holo_manager

import (
	"sync"
)

// requestQueue holds pending update requests and the requests completed this frame. Pending
// entries are unique per handle, except in immediate mode where entries for the same handle
// with different frame numbers coexist.
type requestQueue struct {
	mu *sync.Mutex

	pending   []UpdateRequest
	endFrame  []UpdateRequest
	nextOrder uint64
}

func newRequestQueue() *requestQueue {
	return &requestQueue{mu: &sync.Mutex{}}
}

// supersedes reports whether a queued entry and an incoming request share a de-dup slot.
func supersedes(queued, incoming UpdateRequest, immediate bool) bool {
	if queued.Handle != incoming.Handle {
		return false
	}
	return !immediate || queued.RequestedFrameNumber == incoming.RequestedFrameNumber
}

// add overwrites the entry sharing the request's de-dup slot in place, or appends. It reports
// whether an existing entry was overwritten.
func (q *requestQueue) add(req UpdateRequest, immediate bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.pending {
		if supersedes(q.pending[i], req, immediate) {
			q.pending[i].SequenceIndex = req.SequenceIndex
			q.pending[i].FrameIndex = req.FrameIndex
			q.pending[i].RequestedFrameNumber = req.RequestedFrameNumber
			return true
		}
	}
	req.order = q.nextOrder
	q.nextOrder++
	q.pending = append(q.pending, req)
	return false
}

// drain removes and returns every pending request in enqueue order.
func (q *requestQueue) drain() []UpdateRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// requeue puts deferred requests back ahead of requests that arrived during the pass. A deferred
// request whose slot was taken by a newer arrival is dropped; the count of those is returned.
func (q *requestQueue) requeue(deferred []UpdateRequest, immediate bool) int {
	if len(deferred) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]UpdateRequest, 0, len(deferred)+len(q.pending))
	superseded := 0
	for _, d := range deferred {
		taken := false
		for _, p := range q.pending {
			if supersedes(p, d, immediate) {
				taken = true
				break
			}
		}
		if taken {
			superseded++
			continue
		}
		merged = append(merged, d)
	}
	q.pending = append(merged, q.pending...)
	return superseded
}

func (q *requestQueue) pushEndFrame(reqs []UpdateRequest) {
	if len(reqs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.endFrame = append(q.endFrame, reqs...)
}

func (q *requestQueue) drainEndFrame() []UpdateRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.endFrame
	q.endFrame = nil
	return out
}

// purge removes every pending and end-of-frame entry for a handle.
func (q *requestQueue) purge(h Handle) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	keep := func(in []UpdateRequest) []UpdateRequest {
		out := in[:0]
		for _, r := range in {
			if r.Handle == h {
				removed++
				continue
			}
			out = append(out, r)
		}
		return out
	}
	q.pending = keep(q.pending)
	q.endFrame = keep(q.endFrame)
	return removed
}

func (q *requestQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.endFrame = nil
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// snapshot returns a copy of the pending requests.
func (q *requestQueue) snapshot() []UpdateRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]UpdateRequest(nil), q.pending...)
}
