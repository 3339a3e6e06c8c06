// Package protocol maps single IRC protocol lines to typed events and back.
//
// The codec is pure: no I/O and no state. Parse never fails; lines it cannot
// model become Unrecognized or Empty. Serialize fails only for those two
// variants.
package protocol

import "github.com/sorcix/irc"

// Event is one protocol message. The set of variants is closed: only the
// types declared in this package implement it.
type Event interface {
	// Command returns the protocol command the event corresponds to,
	// or "" for Unrecognized and Empty.
	Command() string

	event()
}

// Register is the connection registration sequence. Password is optional;
// an empty Password sends no PASS line.
type Register struct {
	Password string
	Nickname string
	Username string
	Realname string
}

// Ping is a keepalive probe.
type Ping struct {
	Token string
}

// Pong is a keepalive reply.
type Pong struct {
	Token string
}

// Join announces a channel join. Source is empty for self-issued joins.
type Join struct {
	Source  string
	Channel string
}

// Part announces a channel leave.
type Part struct {
	Source  string
	Channel string
	Reason  string
}

// Notice is a one-way informational message.
type Notice struct {
	Source string
	Target string
	Text   string
}

// PrivateMessage is a user or channel message.
type PrivateMessage struct {
	Source string
	Target string
	Text   string
}

// Quit announces session termination.
type Quit struct {
	Source string
	Reason string
}

// Unrecognized carries a line whose command is not modeled, or whose
// required parameters are missing. Raw is the whole line.
type Unrecognized struct {
	Raw string
}

// Empty is a line that parsed to nothing: blank, or a malformed prefix.
type Empty struct{}

func (Register) Command() string       { return irc.NICK }
func (Ping) Command() string           { return irc.PING }
func (Pong) Command() string           { return irc.PONG }
func (Join) Command() string           { return irc.JOIN }
func (Part) Command() string           { return irc.PART }
func (Notice) Command() string         { return irc.NOTICE }
func (PrivateMessage) Command() string { return irc.PRIVMSG }
func (Quit) Command() string           { return irc.QUIT }
func (Unrecognized) Command() string   { return "" }
func (Empty) Command() string          { return "" }

func (Register) event()       {}
func (Ping) event()           {}
func (Pong) event()           {}
func (Join) event()           {}
func (Part) event()           {}
func (Notice) event()         {}
func (PrivateMessage) event() {}
func (Quit) event()           {}
func (Unrecognized) event()   {}
func (Empty) event()          {}

// SourceOf returns the originating nickname of e, or "" when the variant
// has no source or it was self-issued.
func SourceOf(e Event) string {
	switch e := e.(type) {
	case Join:
		return e.Source
	case Part:
		return e.Source
	case Notice:
		return e.Source
	case PrivateMessage:
		return e.Source
	case Quit:
		return e.Source
	default:
		return ""
	}
}
