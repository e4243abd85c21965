// Package s2s defines the Provider interface for speech-to-speech models.
//
// An S2S provider wraps a bidirectional streaming model API (e.g. Gemini Live)
// that accepts raw microphone audio and answers with synthesized speech,
// transcriptions and turn signals. Everything the server sends arrives on a
// single ordered [Event] stream so that consumers observe chunks, transcripts
// and interruptions in exactly the order they were produced.
//
// Implementations must be safe for concurrent use. The channel returned by
// [SessionHandle.Events] is closed by the implementation when the session
// ends for any reason.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/celestial/pkg/audio"
)

// ErrSessionClosed is returned by [SessionHandle.SendAudio] after the session
// has ended.
var ErrSessionClosed = errors.New("s2s: session closed")

// Modality selects what the model answers with.
type Modality string

const (
	// ModalityAudio requests spoken responses.
	ModalityAudio Modality = "AUDIO"

	// ModalityText requests text-only responses.
	ModalityText Modality = "TEXT"
)

// SessionConfig holds parameters for a new session.
type SessionConfig struct {
	// LanguageCode is the BCP-47 tag the model should speak, e.g. "hi-IN".
	LanguageCode string

	// Instructions is the system instruction for the whole session.
	Instructions string

	// Voice is the provider-specific prebuilt voice name, e.g. "Kore".
	Voice string

	// Modality is the response modality. Empty means [ModalityAudio].
	Modality Modality

	// InputTranscription asks the server to transcribe the user's speech.
	InputTranscription bool

	// OutputTranscription asks the server to transcribe its own speech.
	OutputTranscription bool
}

// EventType classifies events on the session stream.
type EventType int

const (
	// EventSetupComplete acknowledges the session configuration. No audio
	// should be sent before it arrives.
	EventSetupComplete EventType = iota

	// EventAudio carries one synthesized speech chunk in [Event.Audio].
	EventAudio

	// EventInputTranscript carries a fragment of the user's speech as text.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the model's speech as text.
	EventOutputTranscript

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted signals that the user barged in; queued playback is
	// stale.
	EventInterrupted

	// EventGoAway warns that the server will close the session soon.
	EventGoAway
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventSetupComplete:
		return "SETUP_COMPLETE"
	case EventAudio:
		return "AUDIO"
	case EventInputTranscript:
		return "INPUT_TRANSCRIPT"
	case EventOutputTranscript:
		return "OUTPUT_TRANSCRIPT"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventGoAway:
		return "GO_AWAY"
	default:
		return "UNKNOWN"
	}
}

// Event is one server-side occurrence on a session.
type Event struct {
	Type EventType

	// Audio is set for [EventAudio].
	Audio audio.Chunk

	// Text is set for transcript events.
	Text string

	// TimeLeft is set for [EventGoAway] when the server announces it.
	TimeLeft time.Duration
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string

	// InputSampleRate is the rate outbound audio must be sent at.
	InputSampleRate int

	// OutputSampleRate is the rate synthesized audio arrives at.
	OutputSampleRate int

	// MaxSessionDuration is the server-imposed session limit, zero if none.
	MaxSessionDuration time.Duration
}

// SessionHandle is a live session.
type SessionHandle interface {
	// SendAudio streams one chunk of microphone audio. It returns an error
	// once the session is closed.
	SendAudio(chunk audio.Chunk) error

	// Events returns the ordered inbound stream. It is closed when the
	// session ends; [SessionHandle.Err] then reports why.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil for a clean
	// close from either side.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// Provider opens sessions.
type Provider interface {
	// Connect dials the model and sends the session configuration. The
	// returned handle may be used immediately; callers wait for
	// [EventSetupComplete] before streaming audio.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static provider metadata.
	Capabilities() Capabilities
}
