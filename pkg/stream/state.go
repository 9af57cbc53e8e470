package stream

import "fmt"

// State is the connection state.
type State int32

const (
	// StateIdle is a connection that has not started a handshake yet.
	StateIdle State = iota
	StateSynSent
	StateSynReceived
	StateEstablished
	// StateClosingLocal: our FIN is out, the peer may still be sending.
	StateClosingLocal
	// StateClosingRemote: the peer's FIN arrived, we may still send.
	StateClosingRemote
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:          "IDLE",
	StateSynSent:       "SYN_SENT",
	StateSynReceived:   "SYN_RECEIVED",
	StateEstablished:   "ESTABLISHED",
	StateClosingLocal:  "CLOSING_LOCAL",
	StateClosingRemote: "CLOSING_REMOTE",
	StateClosed:        "CLOSED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// Role is the side a connection took in the handshake.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "none"
	}
}
