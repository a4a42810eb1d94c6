package profiler

import (
	"time"

	"go.uber.org/zap"
)

// ProfilerBuilderOption is a functional option for configuring a Profiler.
type ProfilerBuilderOption func(*Profiler)

// WithInterval sets how often a report is logged.
//
// Parameters:
//   - interval: time between reports; non-positive values are ignored
//
// Returns:
//   - ProfilerBuilderOption: functional option to set the interval
func WithInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// WithLogger sets the logger reports are written to.
func WithLogger(log *zap.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.now = now
	}
}
