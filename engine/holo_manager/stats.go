package holo_manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/memory_pool"
)

// passTimeWindow is the number of scheduling passes averaged into UpdateTimeAverage.
const passTimeWindow = 30

// Stats is a point-in-time snapshot of the manager's counters.
type Stats struct {
	// FPS is the render frame rate over the last full second.
	FPS   float64
	Frame uint32

	InstanceCount int
	QueueLength   int

	// UpdateCount is the number of updates completed by the last scheduling pass.
	UpdateCount  int
	TotalUpdates int64
	// UpdateTimeAverage and UpdateTimeMax cover the execution time of recent scheduling passes.
	UpdateTimeAverage time.Duration
	UpdateTimeMax     time.Duration
	// LastBreakTime is the pass time at which the budget was last exhausted.
	LastBreakTime        time.Duration
	MaxFramesSinceUpdate int

	DroppedCount  int64
	CulledCount   int64
	DeferredCount int64
	FailedCount   int64

	VisibleCount     int
	LODCounts        []int
	SlowestInstances []InstanceTiming

	TotalMeshBytes       int64
	TotalTextureBytes    int64
	TotalContainerBytes  int64
	TotalUploadBytes     int64
	TotalIOBytes         int64
	UploadBytesPerSecond float64
	IOBytesPerSecond     float64
	IOAverageTime        time.Duration
	IOMaxTime            time.Duration

	PoolContents       []memory_pool.BucketStat
	PoolLiveBytes      int64
	PoolAllocatedBytes int64

	InFlightWork int
}

// PassResult summarizes one scheduling pass.
type PassResult struct {
	Mode      Mode
	Frame     uint32
	Completed int
	Deferred  int
	Dropped   int
	Culled    int
	Failed    int
	Elapsed   time.Duration
	// BudgetExhausted is true when the frame update limit stopped the pass early.
	BudgetExhausted bool
}

type statsCollector struct {
	mu *sync.Mutex

	passTime             *common.MovingAverage
	lastUpdateCount      int
	lastBreakTime        time.Duration
	maxFramesSinceUpdate int

	visibleCount     int
	lodCounts        []int
	slowestInstances []InstanceTiming

	ioTime *common.MovingAverage

	windowStart  time.Time
	windowFrames int
	windowUpload int64
	windowIO     int64
	fps          float64
	uploadRate   float64
	ioRate       float64

	totalUpdates   atomic.Int64
	dropped        atomic.Int64
	culled         atomic.Int64
	deferred       atomic.Int64
	failed         atomic.Int64
	meshBytes      atomic.Int64
	textureBytes   atomic.Int64
	containerBytes atomic.Int64
	uploadBytes    atomic.Int64
	ioBytes        atomic.Int64
}

func newStatsCollector(lodLevels int, now time.Time) *statsCollector {
	return &statsCollector{
		mu:          &sync.Mutex{},
		passTime:    common.NewMovingAverage(passTimeWindow),
		ioTime:      common.NewMovingAverage(passTimeWindow),
		lodCounts:   make([]int, lodLevels),
		windowStart: now,
	}
}

func (s *statsCollector) recordPass(r PassResult, maxFramesSinceUpdate int, breakTime time.Duration) {
	s.totalUpdates.Add(int64(r.Completed))
	s.dropped.Add(int64(r.Dropped))
	s.culled.Add(int64(r.Culled))
	s.deferred.Add(int64(r.Deferred))
	s.failed.Add(int64(r.Failed))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.passTime.Add(r.Elapsed)
	s.lastUpdateCount = r.Completed
	s.maxFramesSinceUpdate = maxFramesSinceUpdate
	if r.BudgetExhausted {
		s.lastBreakTime = breakTime
	}
}

func (s *statsCollector) resetBreakTime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBreakTime = 0
}

func (s *statsCollector) recordVisibility(visible int, lodCounts []int, slowest []InstanceTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visibleCount = visible
	copy(s.lodCounts, lodCounts)
	s.slowestInstances = slowest
}

func (s *statsCollector) recordIO(bytes int64, d time.Duration) {
	s.ioBytes.Add(bytes)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioTime.Add(d)
}

// tickFrame counts a rendered frame and rolls the per-second windows once a second has passed.
func (s *statsCollector) tickFrame(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowFrames++
	elapsed := now.Sub(s.windowStart)
	if elapsed < time.Second {
		return
	}
	secs := elapsed.Seconds()
	upload := s.uploadBytes.Load()
	io := s.ioBytes.Load()
	s.fps = float64(s.windowFrames) / secs
	s.uploadRate = float64(upload-s.windowUpload) / secs
	s.ioRate = float64(io-s.windowIO) / secs
	s.windowUpload = upload
	s.windowIO = io
	s.windowFrames = 0
	s.windowStart = now
}

// fill copies collector state into st.
func (s *statsCollector) fill(st *Stats) {
	st.TotalUpdates = s.totalUpdates.Load()
	st.DroppedCount = s.dropped.Load()
	st.CulledCount = s.culled.Load()
	st.DeferredCount = s.deferred.Load()
	st.FailedCount = s.failed.Load()
	st.TotalMeshBytes = s.meshBytes.Load()
	st.TotalTextureBytes = s.textureBytes.Load()
	st.TotalContainerBytes = s.containerBytes.Load()
	st.TotalUploadBytes = s.uploadBytes.Load()
	st.TotalIOBytes = s.ioBytes.Load()

	s.mu.Lock()
	defer s.mu.Unlock()
	st.FPS = s.fps
	st.UpdateCount = s.lastUpdateCount
	st.UpdateTimeAverage = s.passTime.Average()
	st.UpdateTimeMax = s.passTime.Max()
	st.LastBreakTime = s.lastBreakTime
	st.MaxFramesSinceUpdate = s.maxFramesSinceUpdate
	st.VisibleCount = s.visibleCount
	st.LODCounts = append([]int(nil), s.lodCounts...)
	st.SlowestInstances = append([]InstanceTiming(nil), s.slowestInstances...)
	st.UploadBytesPerSecond = s.uploadRate
	st.IOBytesPerSecond = s.ioRate
	st.IOAverageTime = s.ioTime.Average()
	st.IOMaxTime = s.ioTime.Max()
}
