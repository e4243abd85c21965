// Package mock provides in-memory implementations of the [device.Platform],
// [device.Input], [device.Microphone] and [device.Output] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on counts, and expose exported fields to inject errors.
//
// Output wraps a [device.Timeline], so tests drive the playback clock
// explicitly with Advance or Render:
//
//	p := mock.NewPlatform()
//	out, _ := p.OpenOutput(ctx, 24000)
//	p.Output().Advance(500 * time.Millisecond)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/celestial/pkg/audio"
	"github.com/MrWong99/celestial/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Platform   = (*Platform)(nil)
	_ device.Input      = (*Input)(nil)
	_ device.Microphone = (*Microphone)(nil)
	_ device.Output     = (*Output)(nil)
)

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform hands out one [Input] and one [Output] per open call. The most
// recent ones are reachable via [Platform.Input] and [Platform.Output].
type Platform struct {
	mu sync.Mutex

	// OpenInputErr, if non-nil, is returned by OpenInput.
	OpenInputErr error

	// OpenOutputErr, if non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// MicrophoneErr is copied into every Input this platform opens.
	MicrophoneErr error

	// StartSuspended opens contexts in the suspended state.
	StartSuspended bool

	inputs  []*Input
	outputs []*Output
}

// NewPlatform returns a platform whose contexts open in the running state.
func NewPlatform() *Platform { return &Platform{} }

// OpenInput implements [device.Platform].
func (p *Platform) OpenInput(_ context.Context, sampleRate int) (device.Input, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenInputErr != nil {
		return nil, p.OpenInputErr
	}
	in := &Input{rate: sampleRate, state: device.StateRunning, MicrophoneErr: p.MicrophoneErr}
	if p.StartSuspended {
		in.state = device.StateSuspended
	}
	p.inputs = append(p.inputs, in)
	return in, nil
}

// OpenOutput implements [device.Platform].
func (p *Platform) OpenOutput(ctx context.Context, sampleRate int) (device.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenOutputErr != nil {
		return nil, p.OpenOutputErr
	}
	out := &Output{Timeline: device.NewTimeline(sampleRate)}
	if !p.StartSuspended {
		_ = out.Timeline.Resume(ctx)
	}
	p.outputs = append(p.outputs, out)
	return out, nil
}

// Input returns the most recently opened input, or nil.
func (p *Platform) Input() *Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inputs) == 0 {
		return nil
	}
	return p.inputs[len(p.inputs)-1]
}

// Output returns the most recently opened output, or nil.
func (p *Platform) Output() *Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outputs) == 0 {
		return nil
	}
	return p.outputs[len(p.outputs)-1]
}

// Opened returns how many inputs and outputs have been opened.
func (p *Platform) Opened() (inputs, outputs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs), len(p.outputs)
}

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock capture context.
type Input struct {
	mu    sync.Mutex
	rate  int
	state device.State
	mic   *Microphone

	// MicrophoneErr, if non-nil, is returned by Microphone.
	MicrophoneErr error

	// ResumeCalls counts Resume invocations.
	ResumeCalls int

	// CloseCalls counts Close invocations, including repeated ones.
	CloseCalls int
}

// SampleRate implements [device.Input].
func (i *Input) SampleRate() int { return i.rate }

// State implements [device.Input].
func (i *Input) State() device.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Resume implements [device.Input].
func (i *Input) Resume(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ResumeCalls++
	if i.state == device.StateClosed {
		return device.ErrClosed
	}
	i.state = device.StateRunning
	return nil
}

// Microphone implements [device.Input].
func (i *Input) Microphone(_ context.Context) (device.Microphone, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.MicrophoneErr != nil {
		return nil, i.MicrophoneErr
	}
	if i.state == device.StateClosed {
		return nil, device.ErrClosed
	}
	i.mic = &Microphone{}
	return i.mic, nil
}

// Mic returns the acquired microphone, or nil.
func (i *Input) Mic() *Microphone {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mic
}

// Close implements [device.Input].
func (i *Input) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CloseCalls++
	i.state = device.StateClosed
	return nil
}

// Closes returns CloseCalls under the lock.
func (i *Input) Closes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.CloseCalls
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock capture stream. Tests push frames with [Microphone.Emit].
type Microphone struct {
	mu        sync.Mutex
	frameSize int
	onFrame   func([]float32)
	stopped   bool

	// StopCalls counts Stop invocations.
	StopCalls int
}

// Capture implements [device.Microphone].
func (m *Microphone) Capture(frameSize int, onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return device.ErrClosed
	}
	m.frameSize = frameSize
	m.onFrame = onFrame
	return nil
}

// FrameSize returns the frame size requested by Capture.
func (m *Microphone) FrameSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameSize
}

// Emit delivers frame synchronously as if the device produced it. Frames
// emitted after Stop are discarded. Reports whether the frame was delivered.
func (m *Microphone) Emit(frame []float32) bool {
	m.mu.Lock()
	fn := m.onFrame
	stopped := m.stopped
	m.mu.Unlock()
	if fn == nil || stopped {
		return false
	}
	fn(frame)
	return true
}

// Stop implements [device.Microphone].
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	m.stopped = true
	m.onFrame = nil
	return nil
}

// Stops returns StopCalls under the lock.
func (m *Microphone) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopCalls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a [device.Timeline] that counts Close calls and can inject Start
// failures.
type Output struct {
	*device.Timeline

	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// CloseCalls counts Close invocations, including repeated ones.
	CloseCalls int

	// Starts records the requested start time of every scheduled buffer.
	Starts []float64
}

// Start implements [device.Output].
func (o *Output) Start(buf *audio.Buffer, at float64, opts device.SourceOptions) (device.Source, error) {
	o.mu.Lock()
	err := o.StartErr
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	src, err := o.Timeline.Start(buf, at, opts)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.Starts = append(o.Starts, at)
	o.mu.Unlock()
	return src, nil
}

// StartTimes returns a copy of Starts.
func (o *Output) StartTimes() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.Starts...)
}

// Close implements [device.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	o.CloseCalls++
	o.mu.Unlock()
	return o.Timeline.Close()
}

// Closes returns CloseCalls under the lock.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CloseCalls
}
