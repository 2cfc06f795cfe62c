package utils

import "sync"

// RollingAverage is the mean of the last few samples added. It is safe for concurrent use.
type RollingAverage struct {
	mu    sync.Mutex
	data  []float64
	pos   int
	count int
}

// NewRollingAverage averages over the last numSamples samples.
func NewRollingAverage(numSamples int) *RollingAverage {
	return &RollingAverage{data: make([]float64, max(numSamples, 1))}
}

// NumSamples is the window size.
func (ra *RollingAverage) NumSamples() int {
	return len(ra.data)
}

// Add records a sample, evicting the oldest once the window is full.
func (ra *RollingAverage) Add(x float64) {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.data[ra.pos] = x
	ra.pos = (ra.pos + 1) % len(ra.data)
	ra.count = min(ra.count+1, len(ra.data))
}

// Average returns the mean of the samples in the window, or 0 before the first sample.
func (ra *RollingAverage) Average() float64 {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if ra.count == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range ra.data[:ra.count] {
		sum += d
	}
	return sum / float64(ra.count)
}
