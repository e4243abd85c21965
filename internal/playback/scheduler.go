// Package playback schedules decoded speech gaplessly on an output device.
//
// The [Scheduler] keeps a playback cursor: each inbound chunk is started at
// max(cursor, device clock) and the cursor advances by the chunk's duration,
// so consecutive chunks play back to back while a late chunk never starts in
// the past. Every started source is tracked until it ends or is flushed.
//
// A Scheduler is owned by the call's event loop and is not safe for
// concurrent use. Source completion fires on the device's render goroutine;
// the notify callback passed to [New] must hand the ID back to the loop,
// which then calls [Scheduler.Ended].
package playback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/audio/device"
)

// SourceID identifies one scheduled chunk.
type SourceID uint64

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithTap attaches a visualization tap to every scheduled source.
func WithTap(t audio.Tap) Option {
	return func(s *Scheduler) { s.tap = t }
}

// WithSpeakingChange registers fn to be called whenever the speaking flag
// flips. fn runs on the owning goroutine.
func WithSpeakingChange(fn func(speaking bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// WithMetrics records per-chunk outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Scheduled    uint64
	DecodeErrors uint64
	StartErrors  uint64
	Flushes      uint64
}

// Scheduler is the inbound audio path of a call.
type Scheduler struct {
	out    device.Output
	notify func(SourceID)

	tap        audio.Tap
	onSpeaking func(bool)
	metrics    *observe.Metrics

	cursor   float64
	nextID   SourceID
	active   map[SourceID]device.Source
	speaking bool
	stats    Stats
}

// New returns a Scheduler for out. notify is called with a source's ID when
// it finishes playing naturally; it runs on the render goroutine and must not
// block.
func New(out device.Output, notify func(SourceID), opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		notify: notify,
		active: make(map[SourceID]device.Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes chunk and schedules it right after everything already
// queued. It returns the absolute start time. Decode and device failures
// drop only this chunk.
func (s *Scheduler) Enqueue(chunk audio.Chunk) (float64, error) {
	buf, err := audio.Decode(chunk, s.out.SampleRate())
	if err != nil {
		s.stats.DecodeErrors++
		s.record(observe.OutcomeDecodeError)
		return 0, fmt.Errorf("playback: decode: %w", err)
	}

	start := max(s.cursor, s.out.CurrentTime())
	s.nextID++
	id := s.nextID
	notify := s.notify
	src, err := s.out.Start(buf, start, device.SourceOptions{
		Tap: s.tap,
		OnEnded: func() {
			if notify != nil {
				notify(id)
			}
		},
	})
	if err != nil {
		s.stats.StartErrors++
		s.record(observe.OutcomeFailed)
		return 0, fmt.Errorf("playback: start: %w", err)
	}

	s.cursor = start + buf.Seconds()
	s.active[id] = src
	s.stats.Scheduled++
	s.record(observe.OutcomeScheduled)
	s.setSpeaking(true)
	return start, nil
}

// Ended removes a naturally finished source. Unknown IDs, e.g. sources that
// were flushed before their completion event was processed, are ignored.
func (s *Scheduler) Ended(id SourceID) {
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	if len(s.active) == 0 {
		s.setSpeaking(false)
	}
}

// Flush stops every active source, resets the cursor to zero and clears the
// speaking flag. Safe to call repeatedly.
func (s *Scheduler) Flush() {
	for id, src := range s.active {
		if err := src.Stop(); err != nil && !device.IsAlreadyStopped(err) {
			slog.Debug("playback: stop source", "id", id, "err", err)
		}
	}
	clear(s.active)
	s.cursor = 0
	s.stats.Flushes++
	if t, ok := s.tap.(interface{ Reset() }); ok {
		t.Reset()
	}
	s.setSpeaking(false)
}

// Speaking reports whether any source is scheduled or playing.
func (s *Scheduler) Speaking() bool { return s.speaking }

// Active returns the number of tracked sources.
func (s *Scheduler) Active() int { return len(s.active) }

// Cursor returns the time at which the next chunk would start if the device
// clock has not passed it.
func (s *Scheduler) Cursor() float64 { return s.cursor }

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats { return s.stats }

func (s *Scheduler) setSpeaking(v bool) {
	if s.speaking == v {
		return
	}
	s.speaking = v
	if s.onSpeaking != nil {
		s.onSpeaking(v)
	}
}

func (s *Scheduler) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPlaybackChunk(context.Background(), outcome)
	}
}
