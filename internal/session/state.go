package session

import "fmt"

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnecting State = iota
	StateRegistering
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ExitStatus is the process exit code a session ends with.
type ExitStatus int

const (
	// ExitQuit is a user-initiated quit.
	ExitQuit ExitStatus = 0

	// ExitFailure means the session never got going: bad configuration or
	// the connection could not be established.
	ExitFailure ExitStatus = 1

	// ExitDisconnected means the server closed the connection or the
	// pipeline failed.
	ExitDisconnected ExitStatus = 3
)

func (e ExitStatus) String() string {
	switch e {
	case ExitQuit:
		return "quit"
	case ExitFailure:
		return "failure"
	case ExitDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ExitStatus(%d)", int(e))
	}
}
