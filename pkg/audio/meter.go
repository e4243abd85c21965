package audio

import (
	"math"
	"sync"
)

// DefaultMeterWindow is the number of trailing samples a [LevelMeter] looks
// at when no size is given.
const DefaultMeterWindow = 256

// Tap observes rendered output samples. Taps are invoked on the device's
// render goroutine and must not block.
type Tap interface {
	Observe(samples []float32)
}

// LevelMeter is a [Tap] that keeps a ring of the most recent samples and
// reports their RMS and peak level for a visualizer.
type LevelMeter struct {
	mu     sync.Mutex
	ring   []float32
	pos    int
	filled bool
}

var _ Tap = (*LevelMeter)(nil)

// NewLevelMeter returns a meter over the last size samples. A non-positive
// size selects [DefaultMeterWindow].
func NewLevelMeter(size int) *LevelMeter {
	if size <= 0 {
		size = DefaultMeterWindow
	}
	return &LevelMeter{ring: make([]float32, size)}
}

// Observe implements [Tap].
func (m *LevelMeter) Observe(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		m.ring[m.pos] = s
		m.pos++
		if m.pos == len(m.ring) {
			m.pos = 0
			m.filled = true
		}
	}
}

// Level returns the RMS and absolute peak of the observed window. Both are
// zero before any samples arrive.
func (m *LevelMeter) Level() (rms, peak float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.pos
	if m.filled {
		n = len(m.ring)
	}
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range m.ring[:n] {
		sum += float64(s) * float64(s)
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return float32(math.Sqrt(sum / float64(n))), peak
}

// Reset clears the window, e.g. after playback is flushed.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.ring)
	m.pos = 0
	m.filled = false
}
