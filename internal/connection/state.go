package connection

// State is the lifecycle state of a Connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Authenticating
	Ready
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	}
	return "unknown"
}
