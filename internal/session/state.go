package session

// State is the lifecycle position of a Session. Transitions only move
// forward: Idle, Connected, Closed.
type State int

const (
	Idle State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear by name in the debug JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
