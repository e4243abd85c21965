// Package device defines the audio hardware abstractions used by a call.
//
// The two primary abstractions are:
//
//   - [Input]: a capture context that yields a [Microphone] delivering fixed
//     size float frames on the device's own goroutine.
//   - [Output]: a playback context with a monotonically increasing clock on
//     which decoded buffers are scheduled at absolute times.
//
// [Timeline] is a software implementation of [Output] that mixes scheduled
// sources sample-accurately; hardware adapters (see the portaudio package)
// drive it from their render callback.
package device

import (
	"context"
	"errors"

	"github.com/MrWong99/celestial/pkg/audio"
)

var (
	// ErrClosed is returned by operations on a closed context.
	ErrClosed = errors.New("device: closed")

	// ErrAlreadyStopped is returned by [Source.Stop] when the source already
	// ended or was stopped. Callers treat it as a no-op.
	ErrAlreadyStopped = errors.New("device: source already stopped")

	// ErrPermissionDenied is returned when microphone access is refused.
	ErrPermissionDenied = errors.New("device: microphone permission denied")

	// ErrNoDevice is returned when no suitable default device exists.
	ErrNoDevice = errors.New("device: no device available")
)

// State is the lifecycle state of an audio context.
type State int

const (
	// StateSuspended contexts hold their clock still and render silence.
	StateSuspended State = iota

	// StateRunning contexts advance their clock as samples are rendered.
	StateRunning

	// StateClosed contexts reject all further work.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Source is a handle to one scheduled buffer.
type Source interface {
	// Stop silences the source immediately. Stopping a source that already
	// ended returns [ErrAlreadyStopped] and has no other effect.
	Stop() error
}

// SourceOptions configures a scheduled buffer.
type SourceOptions struct {
	// Tap, if non-nil, observes the samples of this source as they render.
	Tap audio.Tap

	// OnEnded is called once when the source finishes playing naturally. It
	// is not called for sources stopped via [Source.Stop]. It runs on the
	// render goroutine and must not block.
	OnEnded func()
}

// Output is a playback context.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// SampleRate returns the context's native rate in Hz.
	SampleRate() int

	// CurrentTime returns the context clock in seconds. It never decreases.
	CurrentTime() float64

	// State returns the lifecycle state.
	State() State

	// Resume moves a suspended context to running.
	Resume(ctx context.Context) error

	// Start schedules buf to begin at the absolute context time at. Times in
	// the past start immediately.
	Start(buf *audio.Buffer, at float64, opts SourceOptions) (Source, error)

	// Close releases the device. Subsequent calls return nil.
	Close() error
}

// Microphone is an acquired capture stream.
type Microphone interface {
	// Capture starts delivering frames of exactly frameSize samples to
	// onFrame. onFrame runs on the device goroutine and must not block.
	Capture(frameSize int, onFrame func([]float32)) error

	// Stop ends capture and releases the stream. Idempotent.
	Stop() error
}

// Input is a capture context.
//
// Implementations must be safe for concurrent use.
type Input interface {
	// SampleRate returns the rate frames are delivered at.
	SampleRate() int

	// State returns the lifecycle state.
	State() State

	// Resume moves a suspended context to running.
	Resume(ctx context.Context) error

	// Microphone acquires the default capture device. Refusal surfaces as
	// [ErrPermissionDenied]; absence as [ErrNoDevice].
	Microphone(ctx context.Context) (Microphone, error)

	// Close releases the context. Subsequent calls return nil.
	Close() error
}

// Platform opens audio contexts at requested rates.
type Platform interface {
	OpenInput(ctx context.Context, sampleRate int) (Input, error)
	OpenOutput(ctx context.Context, sampleRate int) (Output, error)
}
