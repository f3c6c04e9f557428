package session

import "time"

// State is the connection manager's lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkState is the process-wide view of the radio link the UI reacts to.
type LinkState struct {
	Connected                   bool
	LastDisconnectWasUnexpected bool
}

// LinkEventKind classifies a LinkEvent.
type LinkEventKind int

const (
	// LinkUp: a session reached Ready.
	LinkUp LinkEventKind = iota
	// LinkClosed: the session was closed by the caller or replaced.
	LinkClosed
	// LinkLost: the hardware dropped a Ready session unprompted.
	LinkLost
)

func (k LinkEventKind) String() string {
	switch k {
	case LinkUp:
		return "up"
	case LinkClosed:
		return "closed"
	case LinkLost:
		return "lost"
	default:
		return "unknown"
	}
}

// LinkEvent is delivered to subscribers on every LinkState change.
type LinkEvent struct {
	Kind   LinkEventKind
	Link   LinkState
	State  State
	Device Descriptor
	At     time.Time
}

// Color is the presentational hue derived from a LinkState.
type Color string

const (
	ColorConnected Color = "#2E7D32"
	ColorLost      Color = "#D32F2F"
	ColorIdle      Color = "#FFFFFF"
)

// Status maps a LinkState to the color the UI paints.
func Status(l LinkState) Color {
	switch {
	case l.Connected:
		return ColorConnected
	case l.LastDisconnectWasUnexpected:
		return ColorLost
	default:
		return ColorIdle
	}
}
