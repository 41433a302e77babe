package timeout

// State is the inactivity state of one binding.
type State int

const (
	StateRunning State = iota
	StateWarn1
	StateWarn2
	StateWarnFinal
	StateExpired
	StateHandled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateWarn1:
		return "Warn1"
	case StateWarn2:
		return "Warn2"
	case StateWarnFinal:
		return "WarnFinal"
	case StateExpired:
		return "Expired"
	case StateHandled:
		return "Handled"
	default:
		return "Unknown"
	}
}
