package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"go.uber.org/zap"
)

// StatsSource provides the manager snapshot the profiler reports.
type StatsSource interface {
	Stats() holo_manager.Stats
}

// Report is what one profiler interval observed.
type Report struct {
	FPS         float64
	HeapMB      float64
	AllocRateMB float64
	SysMB       float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	Manager     holo_manager.Stats
}

// Profiler tracks frame rate, process memory and the holo manager's counters.
// It logs a report at a configurable interval.
type Profiler struct {
	mu             *sync.Mutex
	source         StatsSource
	log            *zap.Logger
	now            func() time.Time
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	last           Report
}

// NewProfiler creates a new Profiler reading manager stats from source.
// Update interval defaults to 1 second.
//
// Parameters:
//   - source: the stats provider, usually the holo manager; may be nil
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(source StatsSource, options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		mu:             &sync.Mutex{},
		source:         source,
		log:            zap.NewNop(),
		now:            time.Now,
		updateInterval: time.Second,
	}
	for _, option := range options {
		option(p)
	}
	p.lastTime = p.now()
	return p
}

// Tick should be called once per rendered frame.
// Logs a report when the update interval has elapsed.
//
// Returns:
//   - bool: true if a report was logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	r := p.sampleLocked(elapsed)
	p.last = r
	p.frameCount = 0
	p.lastTime = currentTime

	p.log.Info("profile",
		zap.Float64("fps", r.FPS),
		zap.Float64("heap_mb", r.HeapMB),
		zap.Float64("alloc_rate_mb", r.AllocRateMB),
		zap.Uint32("gc", r.GCCount),
		zap.Uint64("gc_last_us", r.LastPauseUs),
		zap.Uint64("gc_max_us", r.MaxPauseUs),
		zap.Float64("sys_mb", r.SysMB),
	)
	if p.source != nil {
		logManagerStats(p.log, r.Manager)
	}
	return true
}

// Last returns the most recent report.
func (p *Profiler) Last() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Profiler) sampleLocked(elapsed time.Duration) Report {
	r := Report{FPS: float64(p.frameCount) / elapsed.Seconds()}

	runtime.ReadMemStats(&p.memStats)
	r.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	r.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	r.AllocRateMB = float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 pauses.
	gcCount := p.memStats.NumGC
	if gcCount > 0 {
		r.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}
	r.GCCount = gcCount
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc

	if p.source != nil {
		r.Manager = p.source.Stats()
	}
	return r
}

func logManagerStats(log *zap.Logger, s holo_manager.Stats) {
	log.Info("holo manager",
		zap.Uint32("frame", s.Frame),
		zap.Float64("fps", s.FPS),
		zap.Int("instances", s.InstanceCount),
		zap.Int("visible", s.VisibleCount),
		zap.Ints("lod_counts", s.LODCounts),
		zap.Int("queue", s.QueueLength),
		zap.Int("updates", s.UpdateCount),
		zap.Duration("update_avg", s.UpdateTimeAverage),
		zap.Duration("update_max", s.UpdateTimeMax),
		zap.Duration("last_break", s.LastBreakTime),
		zap.Int("max_frames_since_update", s.MaxFramesSinceUpdate),
		zap.Int64("dropped", s.DroppedCount),
		zap.Int64("culled", s.CulledCount),
		zap.Int64("deferred", s.DeferredCount),
		zap.Int64("failed", s.FailedCount),
		zap.Int("in_flight", s.InFlightWork),
	)
	log.Info("holo memory",
		zap.Int64("mesh_bytes", s.TotalMeshBytes),
		zap.Int64("texture_bytes", s.TotalTextureBytes),
		zap.Int64("container_bytes", s.TotalContainerBytes),
		zap.Int64("pool_live_bytes", s.PoolLiveBytes),
		zap.Int64("pool_allocated_bytes", s.PoolAllocatedBytes),
		zap.Int("pool_buckets", len(s.PoolContents)),
		zap.Float64("upload_bps", s.UploadBytesPerSecond),
		zap.Float64("io_bps", s.IOBytesPerSecond),
		zap.Duration("io_avg", s.IOAverageTime),
		zap.Duration("io_max", s.IOMaxTime),
	)
	for _, slow := range s.SlowestInstances {
		log.Debug("slow instance", zap.String("name", slow.Name), zap.Duration("average", slow.AverageUpdateTime))
	}
}
