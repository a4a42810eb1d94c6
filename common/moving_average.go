package common

import (
	"time"
)

// MovingAverage keeps a fixed window of duration samples and reports their mean and maximum.
// It is not safe for concurrent use; callers guard it with their own lock.
type MovingAverage struct {
	samples []time.Duration
	next    int
	filled  bool
	sum     time.Duration
}

// NewMovingAverage creates a MovingAverage over the given window size.
// Window sizes below 1 are treated as 1.
//
// Parameters:
//   - window: number of samples retained
//
// Returns:
//   - *MovingAverage: the empty average
func NewMovingAverage(window int) *MovingAverage {
	if window < 1 {
		window = 1
	}
	return &MovingAverage{samples: make([]time.Duration, window)}
}

// Add pushes a sample, evicting the oldest once the window is full.
func (m *MovingAverage) Add(d time.Duration) {
	m.sum -= m.samples[m.next]
	m.samples[m.next] = d
	m.sum += d
	m.next++
	if m.next == len(m.samples) {
		m.next = 0
		m.filled = true
	}
}

// Count returns how many samples are currently in the window.
func (m *MovingAverage) Count() int {
	if m.filled {
		return len(m.samples)
	}
	return m.next
}

// Average returns the mean of the window, or 0 when empty.
func (m *MovingAverage) Average() time.Duration {
	n := m.Count()
	if n == 0 {
		return 0
	}
	return m.sum / time.Duration(n)
}

// Max returns the largest sample in the window.
func (m *MovingAverage) Max() time.Duration {
	var hi time.Duration
	for i := 0; i < m.Count(); i++ {
		if m.samples[i] > hi {
			hi = m.samples[i]
		}
	}
	return hi
}

// Reset clears all samples.
func (m *MovingAverage) Reset() {
	for i := range m.samples {
		m.samples[i] = 0
	}
	m.next = 0
	m.filled = false
	m.sum = 0
}
