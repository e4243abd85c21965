package call

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no call has been started yet.
	StateIdle State = iota

	// StateConnecting means devices are being acquired and the remote
	// session is being opened.
	StateConnecting

	// StateOpen means the remote session acknowledged the configuration and
	// microphone audio is being streamed.
	StateOpen

	// StateClosed means the last call ended normally.
	StateClosed

	// StateErrored means the last call ended because of a failure.
	StateErrored
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Live reports whether the state holds call resources.
func (s State) Live() bool {
	return s == StateConnecting || s == StateOpen
}
