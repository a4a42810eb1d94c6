package work_dispatcher

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRequestPoolSize is the default number of reusable work requests.
const DefaultRequestPoolSize = 1024

var (
	// ErrPoolExhausted is returned when every work request is in flight.
	ErrPoolExhausted = errors.New("work dispatcher: request pool exhausted")
	// ErrShutdown is returned when submitting to a dispatcher that has shut down.
	ErrShutdown = errors.New("work dispatcher: shut down")
	// ErrAbandoned is reported to completion callbacks of work dropped by shutdown.
	ErrAbandoned = errors.New("work dispatcher: work abandoned")
)

// WorkRequest is a reusable unit of off-thread work for one instance frame. Requests are owned
// by the dispatcher and handed to the executor only for the duration of the call.
type WorkRequest struct {
	Handle        uuid.UUID
	SequenceIndex int
	FrameIndex    int

	onDone func(error)
}

func (r *WorkRequest) reset() {
	*r = WorkRequest{}
}

// Executor performs one work request on a worker goroutine.
type Executor func(req *WorkRequest) error

type dispatcher struct {
	mu *sync.Mutex

	pool     worker.DynamicWorkerPool
	execute  Executor
	requests chan *WorkRequest

	workers     int
	poolSize    int
	idleTimeout time.Duration

	nextID   atomic.Int64
	inFlight sync.WaitGroup
	pending  atomic.Int64
	closed   atomic.Bool

	completed atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64

	log *zap.Logger
}

// Dispatcher runs decode and rebuild work for registered instances on a worker pool,
// reusing a fixed set of request objects.
type Dispatcher interface {
	// Submit queues work for one instance frame. onDone, if not nil, is called on the worker
	// goroutine with the executor's result.
	//
	// Parameters:
	//   - handle: the instance the work belongs to
	//   - sequenceIndex: sequence to decode
	//   - frameIndex: frame to decode
	//   - onDone: optional completion callback
	//
	// Returns:
	//   - error: ErrShutdown or ErrPoolExhausted when the work was not queued
	Submit(handle uuid.UUID, sequenceIndex, frameIndex int, onDone func(error)) error

	// InFlight returns the number of submitted requests not yet finished.
	InFlight() int

	// Wait blocks until every submitted request has finished.
	Wait()

	// Shutdown rejects new work and waits for queued work to finish or be abandoned.
	// Safe to call multiple times.
	Shutdown()

	// Stats returns completed, failed and abandoned totals.
	Stats() (completed, failed, abandoned int64)
}

var _ Dispatcher = &dispatcher{}

// NewDispatcher creates a Dispatcher backed by a dynamic worker pool.
//
// Parameters:
//   - execute: the function run for every request
//   - options: functional options
//
// Returns:
//   - Dispatcher: the new dispatcher
func NewDispatcher(execute Executor, options ...DispatcherBuilderOption) Dispatcher {
	d := &dispatcher{
		mu:          &sync.Mutex{},
		execute:     execute,
		workers:     runtime.GOMAXPROCS(0),
		poolSize:    DefaultRequestPoolSize,
		idleTimeout: time.Second,
		log:         zap.NewNop(),
	}
	for _, opt := range options {
		opt(d)
	}

	d.requests = make(chan *WorkRequest, d.poolSize)
	for i := 0; i < d.poolSize; i++ {
		d.requests <- &WorkRequest{}
	}
	d.pool = worker.NewDynamicWorkerPool(d.workers, d.poolSize, d.idleTimeout)
	return d
}

func (d *dispatcher) Submit(handle uuid.UUID, sequenceIndex, frameIndex int, onDone func(error)) error {
	// mu orders Submit against Shutdown so no task is added after the final Wait starts.
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return ErrShutdown
	}

	var req *WorkRequest
	select {
	case req = <-d.requests:
	default:
		return fmt.Errorf("submit %s seq %d frame %d: %w", handle, sequenceIndex, frameIndex, ErrPoolExhausted)
	}

	req.Handle = handle
	req.SequenceIndex = sequenceIndex
	req.FrameIndex = frameIndex
	req.onDone = onDone

	d.inFlight.Add(1)
	d.pending.Add(1)
	d.pool.SubmitTask(worker.Task{
		ID: int(d.nextID.Add(1)),
		Do: func() (any, error) {
			d.run(req)
			return nil, nil
		},
	})
	return nil
}

func (d *dispatcher) run(req *WorkRequest) {
	defer d.inFlight.Done()
	defer d.pending.Add(-1)

	onDone := req.onDone
	var err error
	if d.closed.Load() {
		err = ErrAbandoned
		d.abandoned.Add(1)
		d.log.Warn("work request abandoned",
			zap.String("handle", req.Handle.String()),
			zap.Int("sequence", req.SequenceIndex),
			zap.Int("frame", req.FrameIndex),
		)
	} else {
		err = d.safeExecute(req)
		if err != nil {
			d.failed.Add(1)
			d.log.Debug("work request failed",
				zap.String("handle", req.Handle.String()),
				zap.Int("sequence", req.SequenceIndex),
				zap.Int("frame", req.FrameIndex),
				zap.Error(err),
			)
		} else {
			d.completed.Add(1)
		}
	}

	req.reset()
	d.requests <- req

	if onDone != nil {
		onDone(err)
	}
}

func (d *dispatcher) safeExecute(req *WorkRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work request panicked: %v", r)
		}
	}()
	return d.execute(req)
}

func (d *dispatcher) InFlight() int {
	return int(d.pending.Load())
}

func (d *dispatcher) Wait() {
	d.inFlight.Wait()
}

func (d *dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed.Store(true)
	d.mu.Unlock()
	d.inFlight.Wait()
}

func (d *dispatcher) Stats() (completed, failed, abandoned int64) {
	return d.completed.Load(), d.failed.Load(), d.abandoned.Load()
}
