package voice

import "fmt"

// State is the lifecycle state of a [Session].
type State int

const (
	// StateConnecting is the initial state: devices are being acquired and
	// the live channel is handshaking.
	StateConnecting State = iota

	// StateConnected means the live channel reported open and microphone
	// audio is flowing upstream.
	StateConnected

	// StateError is terminal: a device could not be acquired or the live
	// channel failed.
	StateError

	// StateDisconnected is terminal: the channel closed cleanly or the user
	// hung up.
	StateDisconnected
)

// String returns the lower-case name used in logs, metrics and the call
// relay protocol.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateError || s == StateDisconnected
}

// canTransition reports whether from → to is a legal edge of the session
// state machine.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateConnected:
		return from == StateConnecting
	case StateError, StateDisconnected:
		return true
	default:
		return false
	}
}
