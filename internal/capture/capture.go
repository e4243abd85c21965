// Package capture turns microphone frames into outbound PCM16 chunks.
//
// A [Capture] sits between a [device.Microphone] and the remote session. The
// microphone delivers fixed-size float frames on its own goroutine; each frame
// is either dropped (muted, or no session attached yet) or encoded and queued
// for the attached [Sender]. A goroutine per attached sender drains the queue,
// so a stalled socket never blocks the device callback: when the queue is full
// the frame is dropped as busy. Send failures are counted and logged at a
// bounded rate but never stop the stream.
//
// The mute flag and the attached sender are read on the device goroutine and
// written from the call's event loop, so both are atomics.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/celestial/internal/observe"
	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/audio/device"
)

const (
	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 2048

	// DefaultQueueSize is the number of encoded frames buffered per sender,
	// about two seconds of audio at the default frame size.
	DefaultQueueSize = 16

	// errorLogEvery bounds send-failure logging to the first failure and
	// then every Nth one.
	errorLogEvery = 50
)

// Sender accepts outbound audio. [s2s.SessionHandle] satisfies it.
type Sender interface {
	SendAudio(chunk audio.Chunk) error
}

// Stats is a snapshot of the capture counters.
type Stats struct {
	Captured       uint64
	Sent           uint64
	DroppedMuted   uint64
	DroppedNotOpen uint64
	DroppedBusy    uint64
	Failed         uint64
}

// Option is a functional option for configuring a [Capture].
type Option func(*Capture)

// WithFrameSize sets the number of samples per frame requested from the
// microphone. Non-positive values are ignored.
func WithFrameSize(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithQueueSize sets how many encoded frames may wait for the sender.
// Non-positive values are ignored.
func WithQueueSize(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithMetrics records per-frame outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// outbound is the queue of one attached sender and the goroutine draining it.
type outbound struct {
	s     Sender
	queue chan audio.Chunk
	quit  chan struct{}
}

// Capture is the outbound audio path of a call. Create one per call with
// [New]; it is single-use once [Capture.Stop] has been called.
type Capture struct {
	sampleRate int
	frameSize  int
	queueSize  int
	metrics    *observe.Metrics

	muted  atomic.Bool
	sender atomic.Pointer[outbound]

	captured       atomic.Uint64
	sent           atomic.Uint64
	droppedMuted   atomic.Uint64
	droppedNotOpen atomic.Uint64
	droppedBusy    atomic.Uint64
	failed         atomic.Uint64

	mu       sync.Mutex
	mic      device.Microphone
	stopOnce sync.Once
}

// New returns a Capture encoding frames at sampleRate.
func New(sampleRate int, opts ...Option) *Capture {
	c := &Capture{
		sampleRate: sampleRate,
		frameSize:  DefaultFrameSize,
		queueSize:  DefaultQueueSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FrameSize returns the configured samples per frame.
func (c *Capture) FrameSize() int { return c.frameSize }

// Start begins delivering frames from mic. Frames are dropped until a sender
// is attached with [Capture.Attach].
func (c *Capture) Start(mic device.Microphone) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mic != nil {
		return fmt.Errorf("capture: already started")
	}
	if err := mic.Capture(c.frameSize, c.HandleFrame); err != nil {
		return fmt.Errorf("capture: start: %w", err)
	}
	c.mic = mic
	return nil
}

// Attach routes subsequent frames to s, replacing any previous sender.
func (c *Capture) Attach(s Sender) {
	o := &outbound{
		s:     s,
		queue: make(chan audio.Chunk, c.queueSize),
		quit:  make(chan struct{}),
	}
	go c.pump(o)
	if old := c.sender.Swap(o); old != nil {
		close(old.quit)
	}
}

// Detach stops routing frames and discards queued ones. Frames arriving
// afterwards are dropped as not open. A send already in progress is not
// waited for; closing the session unblocks it.
func (c *Capture) Detach() {
	if old := c.sender.Swap(nil); old != nil {
		close(old.quit)
	}
}

// SetMuted sets the mute flag.
func (c *Capture) SetMuted(muted bool) { c.muted.Store(muted) }

// Muted reports the mute flag.
func (c *Capture) Muted() bool { return c.muted.Load() }

// ToggleMute flips the mute flag and returns the new value.
func (c *Capture) ToggleMute() bool {
	for {
		old := c.muted.Load()
		if c.muted.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// HandleFrame processes one microphone frame. It is the callback registered
// with the microphone and runs on the device goroutine, so it never blocks.
func (c *Capture) HandleFrame(frame []float32) {
	c.captured.Add(1)
	if c.muted.Load() {
		c.droppedMuted.Add(1)
		c.record(observe.OutcomeMuted)
		return
	}
	o := c.sender.Load()
	if o == nil {
		c.droppedNotOpen.Add(1)
		c.record(observe.OutcomeNotOpen)
		return
	}

	// frame may be reused by the device after we return; encoding copies it.
	chunk := audio.EncodeFrame(frame, c.sampleRate)
	select {
	case o.queue <- chunk:
	default:
		n := c.droppedBusy.Add(1)
		c.record(observe.OutcomeBusy)
		if n == 1 || n%errorLogEvery == 0 {
			slog.Warn("capture: sender is behind, dropping frame", "dropped", n)
		}
	}
}

// pump drains o.queue into o.s until o is detached.
func (c *Capture) pump(o *outbound) {
	for {
		select {
		case <-o.quit:
			return
		case chunk := <-o.queue:
			select {
			case <-o.quit:
				return
			default:
			}
			c.send(o.s, chunk)
		}
	}
}

func (c *Capture) send(s Sender, chunk audio.Chunk) {
	if err := s.SendAudio(chunk); err != nil {
		n := c.failed.Add(1)
		c.record(observe.OutcomeFailed)
		if n == 1 || n%errorLogEvery == 0 {
			slog.Warn("capture: send audio failed", "err", err, "failures", n)
		}
		return
	}
	c.sent.Add(1)
	c.record(observe.OutcomeSent)
}

func (c *Capture) record(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCaptureFrame(context.Background(), outcome)
	}
}

// Stop detaches the sender and stops the microphone. Idempotent; the
// microphone is stopped at most once.
func (c *Capture) Stop() {
	c.Detach()
	c.stopOnce.Do(func() {
		c.mu.Lock()
		mic := c.mic
		c.mu.Unlock()
		if mic == nil {
			return
		}
		if err := mic.Stop(); err != nil {
			slog.Warn("capture: stop microphone", "err", err)
		}
	})
}

// Stats returns a snapshot of the counters.
func (c *Capture) Stats() Stats {
	return Stats{
		Captured:       c.captured.Load(),
		Sent:           c.sent.Load(),
		DroppedMuted:   c.droppedMuted.Load(),
		DroppedNotOpen: c.droppedNotOpen.Load(),
		DroppedBusy:    c.droppedBusy.Load(),
		Failed:         c.failed.Load(),
	}
}
