// Package portaudio implements [device.Platform] on top of the PortAudio
// library via github.com/gordonklaus/portaudio.
//
// Output contexts open a callback stream that pulls from a [device.Timeline];
// input contexts open a capture stream only once a microphone is requested
// and capture begins, so the device light stays off until the call opens.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/celestial/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Platform   = (*Platform)(nil)
	_ device.Input      = (*input)(nil)
	_ device.Microphone = (*microphone)(nil)
	_ device.Output     = (*output)(nil)
)

const defaultFramesPerBuffer = 512

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Platform.
type Option func(*Platform)

// WithFramesPerBuffer sets the output callback buffer size. Smaller values
// lower latency at the cost of more callbacks.
func WithFramesPerBuffer(n int) Option {
	return func(p *Platform) {
		if n > 0 {
			p.framesPerBuffer = n
		}
	}
}

// ── Platform ───────────────────────────────────────────────────────────────────

// Platform owns the PortAudio library lifetime. Create one per process and
// Close it on shutdown after all contexts are closed.
type Platform struct {
	framesPerBuffer int

	mu     sync.Mutex
	closed bool
}

// New initializes PortAudio.
func New(opts ...Option) (*Platform, error) {
	p := &Platform{framesPerBuffer: defaultFramesPerBuffer}
	for _, o := range opts {
		o(p)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return p, nil
}

// Close terminates PortAudio. Idempotent.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// OpenOutput implements [device.Platform]. The returned context starts
// suspended; the stream only pulls samples once resumed.
func (p *Platform) OpenOutput(_ context.Context, sampleRate int) (device.Output, error) {
	if _, err := pa.DefaultOutputDevice(); err != nil {
		return nil, fmt.Errorf("%w: output: %v", device.ErrNoDevice, err)
	}
	o := &output{Timeline: device.NewTimeline(sampleRate)}
	stream, err := pa.OpenDefaultStream(0, 1, float64(sampleRate), p.framesPerBuffer, o.process)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

// OpenInput implements [device.Platform].
func (p *Platform) OpenInput(_ context.Context, sampleRate int) (device.Input, error) {
	if _, err := pa.DefaultInputDevice(); err != nil {
		return nil, fmt.Errorf("%w: input: %v", device.ErrNoDevice, err)
	}
	return &input{rate: sampleRate, state: device.StateSuspended}, nil
}

// ── output ─────────────────────────────────────────────────────────────────────

type output struct {
	*device.Timeline

	mu     sync.Mutex
	stream *pa.Stream
	closed bool
}

// process is the PortAudio render callback.
func (o *output) process(_, out []float32) {
	o.Timeline.Render(out)
}

func (o *output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	stream := o.stream
	o.mu.Unlock()

	_ = o.Timeline.Close()
	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop output stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close output stream: %w", err))
	}
	return errors.Join(errs...)
}

// ── input ──────────────────────────────────────────────────────────────────────

type input struct {
	rate int

	mu    sync.Mutex
	state device.State
	mics  []*microphone
}

func (i *input) SampleRate() int { return i.rate }

func (i *input) State() device.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *input) Resume(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == device.StateClosed {
		return device.ErrClosed
	}
	i.state = device.StateRunning
	return nil
}

// Microphone checks that a default capture device is reachable. PortAudio has
// no permission prompt of its own; an OS-level refusal shows up as a failure
// to open the stream in Capture.
func (i *input) Microphone(_ context.Context) (device.Microphone, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == device.StateClosed {
		return nil, device.ErrClosed
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrNoDevice, err)
	}
	if dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("%w: %q has no input channels", device.ErrNoDevice, dev.Name)
	}
	m := &microphone{rate: i.rate, device: dev.Name}
	i.mics = append(i.mics, m)
	return m, nil
}

func (i *input) Close() error {
	i.mu.Lock()
	if i.state == device.StateClosed {
		i.mu.Unlock()
		return nil
	}
	i.state = device.StateClosed
	mics := i.mics
	i.mics = nil
	i.mu.Unlock()

	var errs []error
	for _, m := range mics {
		if err := m.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ── microphone ─────────────────────────────────────────────────────────────────

type microphone struct {
	rate   int
	device string

	mu      sync.Mutex
	stream  *pa.Stream
	stopped bool
}

func (m *microphone) Capture(frameSize int, onFrame func([]float32)) error {
	if frameSize <= 0 {
		return fmt.Errorf("portaudio: invalid frame size %d", frameSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return device.ErrClosed
	}
	if m.stream != nil {
		return fmt.Errorf("portaudio: capture already started")
	}

	// PortAudio reuses the callback buffer; hand out a copy.
	cb := func(in, _ []float32) {
		frame := make([]float32, len(in))
		copy(frame, in)
		onFrame(frame)
	}
	stream, err := pa.OpenDefaultStream(1, 0, float64(m.rate), frameSize, cb)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", device.ErrPermissionDenied, m.device, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: start %q: %v", device.ErrPermissionDenied, m.device, err)
	}
	m.stream = stream
	slog.Debug("portaudio: capture started", "device", m.device, "rate", m.rate, "frame_size", frameSize)
	return nil
}

func (m *microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	if m.stream == nil {
		return nil
	}
	var errs []error
	if err := m.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop capture: %w", err))
	}
	if err := m.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close capture: %w", err))
	}
	m.stream = nil
	return errors.Join(errs...)
}
