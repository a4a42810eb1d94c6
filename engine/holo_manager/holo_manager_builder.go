package holo_manager

import (
	"time"

	"github.com/Carmen-Shannon/oxy-holo/engine/memory_pool"
	"github.com/Carmen-Shannon/oxy-holo/engine/work_dispatcher"
	"go.uber.org/zap"
)

// ManagerBuilderOption is a functional option for configuring a Manager.
type ManagerBuilderOption func(*manager)

// WithLogger sets the manager's logger. Sub-components created by the manager log through it too.
//
// Parameters:
//   - log: the zap logger
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithLogger(log *zap.Logger) ManagerBuilderOption {
	return func(m *manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithSettings sets the initial scheduling settings.
//
// Parameters:
//   - s: the settings
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithSettings(s Settings) ManagerBuilderOption {
	return func(m *manager) {
		m.settings = s
	}
}

// WithMaxLOD sets the LOD constant of the priority formula. LODs reported by components are
// clamped to [0, maxLOD]. Values <= 0 keep the default of 3.
//
// Parameters:
//   - maxLOD: the LOD constant
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithMaxLOD(maxLOD int) ManagerBuilderOption {
	return func(m *manager) {
		if maxLOD > 0 {
			m.maxLOD = maxLOD
		}
	}
}

// WithMemoryPool replaces the manager's staging pool.
//
// Parameters:
//   - pool: the pool
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithMemoryPool(pool memory_pool.MemoryPool) ManagerBuilderOption {
	return func(m *manager) {
		if pool != nil {
			m.pool = pool
		}
	}
}

// WithCleanupInterval sets how often the staging pool is trimmed. Values <= 0 keep the default of 250ms.
//
// Parameters:
//   - interval: cleanup period
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithCleanupInterval(interval time.Duration) ManagerBuilderOption {
	return func(m *manager) {
		if interval > 0 {
			m.cleanupInterval = interval
		}
	}
}

// WithDispatcherOptions passes options to the work dispatcher created by Initialize.
//
// Parameters:
//   - options: dispatcher options
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithDispatcherOptions(options ...work_dispatcher.DispatcherBuilderOption) ManagerBuilderOption {
	return func(m *manager) {
		m.dispatcherOptions = append(m.dispatcherOptions, options...)
	}
}

// WithClock replaces the time source used for budgets and statistics.
//
// Parameters:
//   - now: function returning the current time
//
// Returns:
//   - ManagerBuilderOption: option function to apply
func WithClock(now func() time.Time) ManagerBuilderOption {
	return func(m *manager) {
		if now != nil {
			m.now = now
		}
	}
}
