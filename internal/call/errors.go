package call

import "errors"

var (
	// ErrPaywall is returned by [Controller.Connect] when the profile has
	// used up its free calls and is not premium. No session is opened.
	ErrPaywall = errors.New("call: free consultations used up")

	// ErrBusy is returned when a connect is already in progress.
	ErrBusy = errors.New("call: connect already in progress")

	// ErrNotOpen is returned by operations that need a live call.
	ErrNotOpen = errors.New("call: no active call")
)

// Kind classifies connect and session failures.
type Kind int

const (
	// KindPermission means microphone access was refused.
	KindPermission Kind = iota + 1

	// KindDevice means an audio context could not be created or resumed.
	KindDevice

	// KindTransport means the remote session could not be opened.
	KindTransport

	// KindSession means an open session ended unexpectedly.
	KindSession

	// KindConfig means the client is missing required configuration.
	KindConfig

	// KindProfile means the user profile could not be loaded.
	KindProfile
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindDevice:
		return "device"
	case KindTransport:
		return "transport"
	case KindSession:
		return "session"
	case KindConfig:
		return "config"
	case KindProfile:
		return "profile"
	default:
		return "unknown"
	}
}

// Error is the single user-facing failure of a connect attempt or a live
// call. Msg is safe to show to the user; Err carries the cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "call: " + e.Kind.String() + ": " + e.Msg
	}
	return "call: " + e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Msg: userMessage(kind), Err: err}
}

func userMessage(k Kind) string {
	switch k {
	case KindPermission:
		return "Microphone access was denied. Allow access and try again."
	case KindDevice:
		return "Could not start the audio device."
	case KindTransport:
		return "Could not reach the astrologer. Check your connection and try again."
	case KindSession:
		return "The connection to the stars was lost. Press c to reconnect."
	case KindConfig:
		return "System configuration missing."
	case KindProfile:
		return "Could not load your profile."
	default:
		return "Something went wrong."
	}
}

// KindOf returns the [Kind] of err, or zero if err is not an [*Error].
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
