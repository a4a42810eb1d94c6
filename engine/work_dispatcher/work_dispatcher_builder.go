package work_dispatcher

import (
	"time"

	"go.uber.org/zap"
)

// DispatcherBuilderOption is a functional option for configuring a Dispatcher.
type DispatcherBuilderOption func(*dispatcher)

// WithWorkers sets the maximum number of worker goroutines. Values <= 0 keep the default of GOMAXPROCS.
//
// Parameters:
//   - n: worker count
//
// Returns:
//   - DispatcherBuilderOption: option function to apply
func WithWorkers(n int) DispatcherBuilderOption {
	return func(d *dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRequestPoolSize sets how many work requests may be in flight at once.
// The worker queue is sized to match so submissions never block.
//
// Parameters:
//   - n: request pool capacity
//
// Returns:
//   - DispatcherBuilderOption: option function to apply
func WithRequestPoolSize(n int) DispatcherBuilderOption {
	return func(d *dispatcher) {
		if n > 0 {
			d.poolSize = n
		}
	}
}

// WithIdleTimeout sets how long an idle worker lives before exiting.
//
// Parameters:
//   - timeout: idle duration
//
// Returns:
//   - DispatcherBuilderOption: option function to apply
func WithIdleTimeout(timeout time.Duration) DispatcherBuilderOption {
	return func(d *dispatcher) {
		if timeout > 0 {
			d.idleTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for abandoned and failed work.
//
// Parameters:
//   - log: the zap logger
//
// Returns:
//   - DispatcherBuilderOption: option function to apply
func WithLogger(log *zap.Logger) DispatcherBuilderOption {
	return func(d *dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}
