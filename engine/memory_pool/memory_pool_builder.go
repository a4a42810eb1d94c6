package memory_pool

import (
	"go.uber.org/zap"
)

// MemoryPoolBuilderOption is a functional option for configuring a MemoryPool.
type MemoryPoolBuilderOption func(*memoryPool)

// WithBlockGranularity sets the size, in bytes, that every allocation is rounded up to.
// Values <= 0 keep the default of 256 KiB.
//
// Parameters:
//   - size: bucket granularity in bytes
//
// Returns:
//   - MemoryPoolBuilderOption: option function to apply
func WithBlockGranularity(size int) MemoryPoolBuilderOption {
	return func(p *memoryPool) {
		if size > 0 {
			p.granularity = size
		}
	}
}

// WithMaxTotalBytes caps the backing memory the pool may hold. Allocations that would grow
// past the cap fail with ErrPoolExhausted. 0 disables the cap.
//
// Parameters:
//   - limit: maximum backing bytes
//
// Returns:
//   - MemoryPoolBuilderOption: option function to apply
func WithMaxTotalBytes(limit int64) MemoryPoolBuilderOption {
	return func(p *memoryPool) {
		p.maxTotalBytes = limit
	}
}

// WithLogger sets the logger used for pool diagnostics.
//
// Parameters:
//   - log: the zap logger
//
// Returns:
//   - MemoryPoolBuilderOption: option function to apply
func WithLogger(log *zap.Logger) MemoryPoolBuilderOption {
	return func(p *memoryPool) {
		if log != nil {
			p.log = log
		}
	}
}
