package device

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/celestial/pkg/audio"
)

// Compile-time interface assertion.
var _ Output = (*Timeline)(nil)

// Timeline is a software playback context. Scheduled sources are mixed into
// the buffers passed to [Timeline.Render]; the clock advances by exactly the
// number of samples rendered while the timeline is running.
//
// Timeline is safe for concurrent use. Render is normally called from a
// device callback, Start/Stop from the call's event loop.
type Timeline struct {
	rate int

	mu      sync.Mutex
	frame   int64
	state   State
	sources []*timelineSource
}

type timelineSource struct {
	tl      *Timeline
	samples []float32
	start   int64
	pos     int
	done    bool
	opts    SourceOptions
}

// NewTimeline returns a suspended timeline clocked at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate, state: StateSuspended}
}

// SampleRate implements [Output].
func (t *Timeline) SampleRate() int { return t.rate }

// CurrentTime implements [Output].
func (t *Timeline) CurrentTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.frame) / float64(t.rate)
}

// State implements [Output].
func (t *Timeline) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Resume implements [Output].
func (t *Timeline) Resume(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return ErrClosed
	}
	t.state = StateRunning
	return nil
}

// Suspend holds the clock still until the next [Timeline.Resume].
func (t *Timeline) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		t.state = StateSuspended
	}
}

// Start implements [Output]. Buffers at a different rate are resampled to the
// timeline's rate first.
func (t *Timeline) Start(buf *audio.Buffer, at float64, opts SourceOptions) (Source, error) {
	if buf == nil || buf.Len() == 0 {
		return nil, audio.ErrEmptyChunk
	}
	samples := buf.Samples
	if buf.SampleRate != t.rate {
		samples = audio.ResampleFloats(samples, buf.SampleRate, t.rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return nil, ErrClosed
	}
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.frame {
		start = t.frame
	}
	src := &timelineSource{tl: t, samples: samples, start: start, opts: opts}
	t.sources = append(t.sources, src)
	return src, nil
}

// Render mixes every source overlapping the next len(out) samples into out
// and advances the clock. A suspended or closed timeline renders silence and
// holds its clock. OnEnded callbacks run after the internal lock is released.
func (t *Timeline) Render(out []float32) {
	clear(out)
	n := int64(len(out))

	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return
	}

	var ended []func()
	live := t.sources[:0]
	for _, src := range t.sources {
		begin := max(src.start+int64(src.pos)-t.frame, 0)
		if begin >= n {
			live = append(live, src)
			continue
		}
		k := min(n-begin, int64(len(src.samples)-src.pos))
		seg := src.samples[src.pos : src.pos+int(k)]
		for i, s := range seg {
			out[begin+int64(i)] += s
		}
		if src.opts.Tap != nil {
			src.opts.Tap.Observe(seg)
		}
		src.pos += int(k)
		if src.pos < len(src.samples) {
			live = append(live, src)
			continue
		}
		src.done = true
		if src.opts.OnEnded != nil {
			ended = append(ended, src.opts.OnEnded)
		}
	}
	clear(t.sources[len(live):])
	t.sources = live
	t.frame += n
	t.mu.Unlock()

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	for _, fn := range ended {
		fn()
	}
}

// Advance renders d worth of samples into a scratch buffer. Useful for
// driving the clock without a device.
func (t *Timeline) Advance(d time.Duration) {
	t.Render(make([]float32, audio.FrameSize(t.rate, d)))
}

// Active returns the number of sources that have not yet ended.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sources)
}

// Close implements [Output]. All scheduled sources are dropped without
// firing OnEnded.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateClosed {
		return nil
	}
	t.state = StateClosed
	for _, src := range t.sources {
		src.done = true
	}
	t.sources = nil
	return nil
}

// Stop implements [Source].
func (s *timelineSource) Stop() error {
	t := s.tl
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.done {
		return ErrAlreadyStopped
	}
	s.done = true
	if i := slices.Index(t.sources, s); i >= 0 {
		t.sources = slices.Delete(t.sources, i, i+1)
	}
	return nil
}

// IsAlreadyStopped reports whether err means a source was already finished.
func IsAlreadyStopped(err error) bool {
	return errors.Is(err, ErrAlreadyStopped)
}
