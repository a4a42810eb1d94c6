package renderer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

type gpuBuffer struct {
	owner    *wgpuRenderer
	label    string
	size     uint64
	usage    upload.BufferUsage
	buf      *wgpu.Buffer
	released atomic.Bool
}

func (b *gpuBuffer) Label() string             { return b.label }
func (b *gpuBuffer) Size() uint64              { return b.size }
func (b *gpuBuffer) Usage() upload.BufferUsage { return b.usage }

func (b *gpuBuffer) Release() {
	if b.released.Swap(true) {
		return
	}
	b.buf.Release()
	b.owner.liveBuffers.Add(-1)
	b.owner.liveBytes.Add(-int64(b.size))
}

type wgpuRenderer struct {
	mu  *sync.Mutex
	log *zap.Logger

	surfaceDescriptor    *wgpu.SurfaceDescriptor
	forceFallbackAdapter bool
	presentMode          PresentMode
	clearColor           wgpu.Color

	instance      *wgpu.Instance
	surface       *wgpu.Surface
	adapter       *wgpu.Adapter
	device        *wgpu.Device
	queue         *wgpu.Queue
	surfaceFormat wgpu.TextureFormat
	configured    bool
	released      bool

	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView

	liveBuffers atomic.Int64
	liveBytes   atomic.Int64
}

var _ Renderer = &wgpuRenderer{}

// NewRenderer creates the webgpu instance, adapter, device and queue. Without
// WithSurfaceDescriptor the renderer is headless and only uploads.
//
// Parameters:
//   - options: functional options to configure the renderer
//
// Returns:
//   - Renderer: the ready renderer
//   - error: adapter or device request failure
func NewRenderer(options ...RendererBuilderOption) (Renderer, error) {
	r := &wgpuRenderer{
		mu:         &sync.Mutex{},
		log:        zap.NewNop(),
		clearColor: wgpu.Color{R: 0.1, G: 0.1, B: 0.1, A: 1.0},
	}
	for _, option := range options {
		option(r)
	}

	r.instance = wgpu.CreateInstance(nil)
	if r.surfaceDescriptor != nil {
		r.surface = r.instance.CreateSurface(r.surfaceDescriptor)
	}

	adapter, err := r.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: r.forceFallbackAdapter,
		CompatibleSurface:    r.surface,
	})
	if err != nil {
		r.releaseLocked()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	r.adapter = adapter

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Holo Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		r.releaseLocked()
		return nil, fmt.Errorf("request device: %w", err)
	}
	r.device = device
	r.queue = device.GetQueue()

	r.log.Info("renderer ready", zap.Bool("headless", r.surface == nil))
	return r, nil
}

func (r *wgpuRenderer) Headless() bool {
	return r.surface == nil
}

func (r *wgpuRenderer) LiveBuffers() int64 {
	return r.liveBuffers.Load()
}

func (r *wgpuRenderer) LiveBytes() int64 {
	return r.liveBytes.Load()
}

func (r *wgpuRenderer) CreateBuffer(label string, usage upload.BufferUsage, size uint64) (upload.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return nil, ErrReleased
	}
	size = upload.AlignSize(size)
	buf, err := r.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            bufferUsage(usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	r.liveBuffers.Add(1)
	r.liveBytes.Add(int64(size))
	return &gpuBuffer{owner: r, label: label, size: size, usage: usage, buf: buf}, nil
}

func (r *wgpuRenderer) WriteBuffer(buf upload.Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*gpuBuffer)
	if !ok || b.owner != r {
		return upload.ErrForeignBuffer
	}
	if b.released.Load() {
		return upload.ErrReleased
	}
	if offset+uint64(len(data)) > b.size {
		return upload.ErrOutOfRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrReleased
	}
	if err := r.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("write buffer %s: %w", b.label, err)
	}
	return nil
}

func (r *wgpuRenderer) ConfigureSurface(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.surface == nil || r.released || width <= 0 || height <= 0 {
		return
	}
	capabilities := r.surface.GetCapabilities(r.adapter)
	r.surfaceFormat = capabilities.Formats[0]

	presentMode := wgpu.PresentModeFifo
	if r.presentMode == PresentModeUncapped {
		presentMode = wgpu.PresentModeImmediate
	}
	r.surface.Configure(r.adapter, r.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      r.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	r.configured = true
	r.log.Debug("surface configured", zap.Int("width", width), zap.Int("height", height))
}

func (r *wgpuRenderer) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrReleased
	}
	if r.frameEncoder != nil {
		return ErrFrameInProgress
	}

	encoder, err := r.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	r.frameEncoder = encoder
	if r.surface == nil || !r.configured {
		return nil
	}

	surfaceTexture, err := r.surface.GetCurrentTexture()
	if err != nil {
		r.discardFrameLocked()
		return err
	}
	r.frameSurface = surfaceTexture

	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		r.discardFrameLocked()
		return err
	}
	r.frameView = view

	r.framePass = encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: r.clearColor,
			},
		},
	})
	return nil
}

func (r *wgpuRenderer) EndFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frameEncoder == nil {
		return
	}
	if r.framePass != nil {
		r.framePass.End()
		r.framePass.Release()
		r.framePass = nil
	}

	commandBuffer, err := r.frameEncoder.Finish(nil)
	if err != nil {
		r.log.Warn("finish frame", zap.Error(err))
		r.discardFrameLocked()
		return
	}
	r.queue.Submit(commandBuffer)
	commandBuffer.Release()

	if r.frameSurface != nil {
		r.surface.Present()
	}
	r.discardFrameLocked()
}

func (r *wgpuRenderer) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return ErrReleased
	}
	encoder, err := r.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	r.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (r *wgpuRenderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.discardFrameLocked()
	r.releaseLocked()
	r.log.Info("renderer released", zap.Int64("leaked_buffers", r.liveBuffers.Load()))
}

func (r *wgpuRenderer) discardFrameLocked() {
	if r.framePass != nil {
		r.framePass.Release()
		r.framePass = nil
	}
	if r.frameEncoder != nil {
		r.frameEncoder.Release()
		r.frameEncoder = nil
	}
	if r.frameView != nil {
		r.frameView.Release()
		r.frameView = nil
	}
	if r.frameSurface != nil {
		r.frameSurface.Release()
		r.frameSurface = nil
	}
}

func (r *wgpuRenderer) releaseLocked() {
	r.released = true
	if r.queue != nil {
		r.queue.Release()
	}
	if r.device != nil {
		r.device.Release()
	}
	if r.adapter != nil {
		r.adapter.Release()
	}
	if r.surface != nil {
		r.surface.Release()
	}
	if r.instance != nil {
		r.instance.Release()
	}
}

func bufferUsage(u upload.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&upload.UsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if u&upload.UsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	if u&upload.UsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&upload.UsageCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	if u&upload.UsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	// Queue writes require CopyDst.
	return out | wgpu.BufferUsageCopyDst
}
