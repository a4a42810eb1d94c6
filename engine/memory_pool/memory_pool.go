package memory_pool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultBlockGranularity is the size every allocation is rounded up to.
const DefaultBlockGranularity = 256 * 1024

// MaxBlockSize is the largest block the pool hands out. Larger requests fail with
// ErrPoolExhausted instead of attempting the allocation.
const MaxBlockSize int64 = 1 << 32

// cleanupUtilizationThreshold is the utilized/allocated ratio under which Cleanup trims.
const cleanupUtilizationThreshold = 0.5

var (
	// ErrInvalidSize is returned when a non-positive or unrepresentable size is requested.
	ErrInvalidSize = errors.New("memory pool: invalid block size")
	// ErrPoolExhausted is returned when an allocation would exceed the configured byte ceiling.
	ErrPoolExhausted = errors.New("memory pool: exhausted")
	// ErrForeignBlock is returned when a block is returned to a pool that did not allocate it.
	ErrForeignBlock = errors.New("memory pool: block belongs to another pool")
	// ErrDoubleFree is returned when a block is returned twice.
	ErrDoubleFree = errors.New("memory pool: block already returned")
)

// BucketStat is a snapshot of one size class.
type BucketStat struct {
	// SizeBytes is the block size served by this bucket.
	SizeBytes int
	// FreeCount is the number of idle blocks ready for reuse.
	FreeCount int
	// LiveCount is the number of blocks currently handed out.
	LiveCount int
}

type bucket struct {
	free   []*Block
	live   int
	demand int // allocations since the last cleanup
}

type memoryPool struct {
	mu *sync.Mutex

	granularity   int
	maxTotalBytes int64
	buckets       map[int]*bucket

	allocatedBytes     atomic.Int64
	liveBytes          atomic.Int64
	backingAllocations atomic.Int64

	log *zap.Logger
}

// MemoryPool is a size-bucketed free-list allocator for large staging buffers. Buckets are
// multiples of the block granularity; freed blocks are kept for reuse and only released to
// the garbage collector by Cleanup or Empty.
type MemoryPool interface {
	// Allocate returns a block of at least size bytes, reusing an idle block of the same bucket when one exists.
	//
	// Parameters:
	//   - size: requested size in bytes
	//
	// Returns:
	//   - *Block: the exclusively owned block
	//   - error: ErrInvalidSize or ErrPoolExhausted
	Allocate(size int) (*Block, error)

	// Deallocate returns a block to its bucket's free list. Backing memory is kept.
	//
	// Parameters:
	//   - b: the block to return
	//
	// Returns:
	//   - error: ErrForeignBlock or ErrDoubleFree on misuse
	Deallocate(b *Block) error

	// Preallocate warms a bucket with count idle blocks able to hold size bytes.
	//
	// Parameters:
	//   - size: requested size in bytes
	//   - count: number of blocks to create
	//
	// Returns:
	//   - error: ErrInvalidSize or ErrPoolExhausted
	Preallocate(size, count int) error

	// Cleanup trims idle blocks whose bucket saw less demand than it has free blocks since the
	// previous cleanup. Trimming only happens when less than half the backing memory is in use,
	// and releases at most one block per bucket per call.
	Cleanup()

	// Empty releases every idle block. Blocks still handed out are unaffected.
	Empty()

	// PeekPoolContents returns a best-effort snapshot of every bucket, ordered by size.
	//
	// Returns:
	//   - []BucketStat: one entry per bucket
	PeekPoolContents() []BucketStat

	// BucketSize returns the block size that serves a request of size bytes.
	//
	// Parameters:
	//   - size: requested size in bytes
	//
	// Returns:
	//   - int: the rounded-up bucket size, or 0 for sizes Allocate rejects as invalid
	BucketSize(size int) int

	// LiveBytes returns the bytes of blocks currently handed out.
	LiveBytes() int64

	// AllocatedBytes returns the backing bytes held by the pool, live and idle.
	AllocatedBytes() int64

	// BackingAllocations returns how many backing buffers the pool has ever created.
	BackingAllocations() int64
}

var _ MemoryPool = &memoryPool{}

// NewMemoryPool creates an empty MemoryPool.
//
// Parameters:
//   - options: functional options for granularity, capacity and logging
//
// Returns:
//   - MemoryPool: the new pool
func NewMemoryPool(options ...MemoryPoolBuilderOption) MemoryPool {
	p := &memoryPool{
		mu:          &sync.Mutex{},
		granularity: DefaultBlockGranularity,
		buckets:     make(map[int]*bucket),
		log:         zap.NewNop(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *memoryPool) BucketSize(size int) int {
	if size <= 0 || size > math.MaxInt-p.granularity {
		return 0
	}
	return p.bucketIndex(size) * p.granularity
}

func (p *memoryPool) Allocate(size int) (*Block, error) {
	index, err := p.checkedBucketIndex(size)
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", size, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var b *Block
	if bk, ok := p.buckets[index]; ok && len(bk.free) > 0 {
		n := len(bk.free)
		b = bk.free[n-1]
		bk.free[n-1] = nil
		bk.free = bk.free[:n-1]
	} else if b, err = p.newBlockLocked(index); err != nil {
		return nil, err
	}

	bk := p.bucketLocked(index)
	bk.demand++
	b.inUse = true
	bk.live++
	p.liveBytes.Add(int64(b.size))
	return b, nil
}

func (p *memoryPool) Deallocate(b *Block) error {
	if b == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b.owner != p {
		return ErrForeignBlock
	}
	if !b.inUse {
		return ErrDoubleFree
	}
	b.inUse = false

	bk := p.bucketLocked(b.bucket)
	bk.live--
	bk.free = append(bk.free, b)
	p.liveBytes.Add(-int64(b.size))
	return nil
}

func (p *memoryPool) Preallocate(size, count int) error {
	index, err := p.checkedBucketIndex(size)
	if err != nil {
		return fmt.Errorf("preallocate %d bytes: %w", size, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bk := p.bucketLocked(index)
	for i := 0; i < count; i++ {
		b, err := p.newBlockLocked(index)
		if err != nil {
			return err
		}
		bk.free = append(bk.free, b)
	}
	return nil
}

func (p *memoryPool) Cleanup() {
	if p.allocatedBytes.Load() == 0 {
		return
	}

	// Snapshot and reset demand in one pass so the window is consistent across buckets.
	p.mu.Lock()
	demand := make(map[int]int, len(p.buckets))
	for index, bk := range p.buckets {
		demand[index] = bk.demand
		bk.demand = 0
	}
	p.mu.Unlock()

	utilization := float64(p.liveBytes.Load()) / float64(p.allocatedBytes.Load())
	if utilization >= cleanupUtilizationThreshold {
		return
	}

	var released int64
	for index, used := range demand {
		p.mu.Lock()
		bk, ok := p.buckets[index]
		if ok && len(bk.free) > used {
			n := len(bk.free)
			b := bk.free[n-1]
			bk.free[n-1] = nil
			bk.free = bk.free[:n-1]
			p.releaseLocked(b)
			released += int64(b.size)
			if len(bk.free) == 0 && bk.live == 0 {
				delete(p.buckets, index)
			}
		}
		p.mu.Unlock()
	}

	if released > 0 {
		p.log.Debug("memory pool trimmed",
			zap.Int64("released_bytes", released),
			zap.Float64("utilization", utilization),
			zap.Int64("allocated_bytes", p.allocatedBytes.Load()),
		)
	}
}

func (p *memoryPool) Empty() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for index, bk := range p.buckets {
		for i, b := range bk.free {
			p.releaseLocked(b)
			bk.free[i] = nil
		}
		bk.free = bk.free[:0]
		bk.demand = 0
		if bk.live == 0 {
			delete(p.buckets, index)
		}
	}
}

func (p *memoryPool) PeekPoolContents() []BucketStat {
	p.mu.Lock()
	stats := make([]BucketStat, 0, len(p.buckets))
	for index, bk := range p.buckets {
		stats = append(stats, BucketStat{
			SizeBytes: index * p.granularity,
			FreeCount: len(bk.free),
			LiveCount: bk.live,
		})
	}
	p.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].SizeBytes < stats[j].SizeBytes })
	return stats
}

func (p *memoryPool) LiveBytes() int64 {
	return p.liveBytes.Load()
}

func (p *memoryPool) AllocatedBytes() int64 {
	return p.allocatedBytes.Load()
}

func (p *memoryPool) BackingAllocations() int64 {
	return p.backingAllocations.Load()
}

func (p *memoryPool) bucketIndex(size int) int {
	return (size + p.granularity - 1) / p.granularity
}

// checkedBucketIndex validates size before rounding it up to its bucket.
func (p *memoryPool) checkedBucketIndex(size int) (int, error) {
	if size <= 0 || size > math.MaxInt-p.granularity {
		return 0, ErrInvalidSize
	}
	index := p.bucketIndex(size)
	if int64(index)*int64(p.granularity) > MaxBlockSize {
		return 0, fmt.Errorf("block of %d bytes exceeds %d: %w", int64(index)*int64(p.granularity), MaxBlockSize, ErrPoolExhausted)
	}
	return index, nil
}

// bucketLocked returns the bucket for index, creating it if needed. Caller must hold mu.
func (p *memoryPool) bucketLocked(index int) *bucket {
	bk, ok := p.buckets[index]
	if !ok {
		bk = &bucket{}
		p.buckets[index] = bk
	}
	return bk
}

// newBlockLocked creates backing memory for a block of the given bucket. Caller must hold mu.
func (p *memoryPool) newBlockLocked(index int) (*Block, error) {
	size := index * p.granularity
	if p.maxTotalBytes > 0 && p.allocatedBytes.Load()+int64(size) > p.maxTotalBytes {
		return nil, fmt.Errorf("allocate %d bytes with %d of %d held: %w",
			size, p.allocatedBytes.Load(), p.maxTotalBytes, ErrPoolExhausted)
	}

	b := &Block{
		data:   make([]byte, size),
		size:   size,
		bucket: index,
		owner:  p,
	}
	p.allocatedBytes.Add(int64(size))
	p.backingAllocations.Add(1)
	return b, nil
}

// releaseLocked drops the pool's reference to an idle block. Caller must hold mu.
func (p *memoryPool) releaseLocked(b *Block) {
	p.allocatedBytes.Add(-int64(b.size))
	b.data = nil
	b.owner = nil
}
