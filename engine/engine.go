package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/profiler"
	"github.com/Carmen-Shannon/oxy-holo/engine/window"
	"go.uber.org/zap"
)

// ErrRenderPanic is returned by Run when the render goroutine recovered from a panic.
var ErrRenderPanic = errors.New("render loop panicked")

// FrameRenderer brackets each render loop iteration with a GPU frame.
type FrameRenderer interface {
	BeginFrame() error
	EndFrame()
}

// updatable views are refreshed once per render frame before culling.
type updatable interface {
	Update()
}

// engine implements the Engine interface.
// Coordinates the tick, render and window loops around the holo manager.
type engine struct {
	tickRateChannel chan time.Duration

	running atomic.Bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once
	errMu       sync.Mutex
	err         error

	log      *zap.Logger
	manager  holo_manager.Manager
	view     holo_manager.View
	renderer FrameRenderer
	window   window.Window

	profiler         *profiler.Profiler
	profilingEnabled atomic.Bool

	engineTickRate   time.Duration
	renderFrameLimit time.Duration // 0 = uncapped
	tickCallback     func(deltaTime float32)
	renderCallback   func(deltaTime float32)
}

// Engine drives the holo manager. The tick loop advances the manager's frame number and lets
// players enqueue requests; the render loop culls, runs the scheduler, renders and drains the
// end-of-frame queue.
type Engine interface {
	// Manager returns the driven holo manager.
	Manager() holo_manager.Manager

	// Window returns the window, or nil for headless engines.
	Window() window.Window

	// EnableProfiler enables periodic stats logging.
	EnableProfiler()

	// DisableProfiler disables periodic stats logging.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in ticks per second.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick, after the manager's
	// frame number advanced.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called each render frame, between the
	// scheduling pass and the end-of-frame drain.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// Run starts the loops and blocks until ctx is done, Quit is called, the window closes or
	// the render loop panics. With a window, Run must be called from the window's goroutine.
	//
	// Returns:
	//   - error: ErrRenderPanic (wrapped) or nil
	Run(ctx context.Context) error

	// Quit signals all engine goroutines to stop. Safe to call multiple times.
	Quit()
}

var _ Engine = &engine{}

// NewEngine creates a new Engine driving manager.
//
// Parameters:
//   - manager: the initialized holo manager
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(manager holo_manager.Manager, options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		log:             zap.NewNop(),
		manager:         manager,
		engineTickRate:  time.Second / 60,
	}
	var profilerOptions []profiler.ProfilerBuilderOption
	for _, opt := range options {
		opt(e, &profilerOptions)
	}
	profilerOptions = append([]profiler.ProfilerBuilderOption{profiler.WithLogger(e.log.Named("profiler"))}, profilerOptions...)
	e.profiler = profiler.NewProfiler(manager, profilerOptions...)
	return e
}

func (e *engine) Manager() holo_manager.Manager {
	return e.manager
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	defer e.running.Store(false)

	e.wg.Add(3)
	go e.handleEngine()
	go e.handleRender()
	go e.handleContext(ctx)

	if e.window != nil {
		e.processWindow()
	}
	<-e.quitChannel
	e.wg.Wait()

	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Quit signals all engine goroutines to stop and shuts down the engine.
func (e *engine) Quit() {
	e.signalQuit()
}

func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) fail(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
	e.signalQuit()
}

// processWindow polls window events on the calling goroutine until the window closes or the
// engine quits.
func (e *engine) processWindow() {
	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}
		if !e.window.PollEvents() {
			e.log.Info("window closed, quitting")
			e.signalQuit()
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (e *engine) handleContext(ctx context.Context) {
	defer e.wg.Done()
	select {
	case <-ctx.Done():
		e.signalQuit()
	case <-e.quitChannel:
	}
}

// handleEngine runs the fixed-rate tick loop. Each tick advances the manager frame number
// before the tick callback so requests made by the callback carry the new frame.
func (e *engine) handleEngine() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tick goroutine recovered from panic", zap.Any("panic", r))
			e.fail(fmt.Errorf("tick loop: %w: %v", ErrRenderPanic, r))
		}
	}()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			e.manager.AdvanceFrame()
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop.
// Recovers from panics and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("render goroutine recovered from panic", zap.Any("panic", r))
			e.fail(fmt.Errorf("%w: %v", ErrRenderPanic, r))
		}
	}()

	lastRender := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastRender).Seconds())
		lastRender = now

		e.renderFrame(dt)

		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(lastRender); remaining > 0 {
				time.Sleep(remaining)
			}
		} else {
			// Yield so an idle manager does not spin a core.
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func (e *engine) renderFrame(dt float32) {
	if e.view != nil {
		if u, ok := e.view.(updatable); ok {
			u.Update()
		}
		e.manager.UpdateVisibilityAndLOD(e.view)
	}

	e.manager.BeginFrame()

	framed := false
	if e.renderer != nil {
		if err := e.renderer.BeginFrame(); err != nil {
			e.log.Debug("skip gpu frame", zap.Error(err))
		} else {
			framed = true
		}
	}
	if e.renderCallback != nil {
		e.renderCallback(dt)
	}
	if framed {
		e.renderer.EndFrame()
	}

	e.manager.EndFrame()

	if e.profilingEnabled.Load() {
		e.profiler.Tick()
	}
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled.Store(true)
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled.Store(false)
}

// SetTickRate sets the engine tick rate in ticks per second.
// If the engine is running, the change takes effect on the next tick.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if !e.running.Load() {
		e.engineTickRate = newRate
		return
	}
	// Replace any pending value.
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}
