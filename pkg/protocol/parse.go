package protocol

import (
	"strings"

	"github.com/sorcix/irc"
)

const (
	// LineTerminator ends every protocol line on the wire.
	LineTerminator = "\r\n"

	prefixMarker  = ":"
	trailingMark  = ":"
	userSeparator = '!'
	hostSeparator = '@'
)

// Parse converts one protocol line into an Event. It never fails: blank
// lines and malformed prefixes yield Empty, unknown commands and commands
// missing a required parameter yield Unrecognized.
//
// Trailing free-text parameters are rebuilt by joining the remaining
// whitespace-separated tokens with single spaces and dropping one leading
// ':'. This is lossy: runs of spaces collapse, and a trailing parameter
// cannot be told apart from several middle parameters.
func Parse(line string) Event {
	line = strings.TrimRight(line, LineTerminator)

	words := strings.Fields(line)
	if len(words) == 0 {
		return Empty{}
	}

	var source string
	if strings.HasPrefix(line, prefixMarker) {
		source = parseSource(words[0])
		if source == "" {
			return Empty{}
		}
		words = words[1:]
	}

	if len(words) == 0 {
		return Empty{}
	}

	command, params := words[0], words[1:]

	switch command {
	case irc.PING:
		return Ping{Token: trailing(params)}
	case irc.PONG:
		return Pong{Token: trailing(params)}
	case irc.JOIN:
		if len(params) == 0 {
			return Unrecognized{Raw: line}
		}
		return Join{Source: source, Channel: strings.TrimPrefix(params[0], trailingMark)}
	case irc.PART:
		if len(params) == 0 {
			return Unrecognized{Raw: line}
		}
		return Part{
			Source:  source,
			Channel: strings.TrimPrefix(params[0], trailingMark),
			Reason:  trailing(params[1:]),
		}
	case irc.NOTICE:
		if len(params) == 0 {
			return Unrecognized{Raw: line}
		}
		return Notice{Source: source, Target: params[0], Text: trailing(params[1:])}
	case irc.PRIVMSG:
		if len(params) == 0 {
			return Unrecognized{Raw: line}
		}
		return PrivateMessage{Source: source, Target: params[0], Text: trailing(params[1:])}
	case irc.QUIT:
		return Quit{Source: source, Reason: trailing(params)}
	default:
		return Unrecognized{Raw: line}
	}
}

// parseSource extracts the nickname from a ":nick!user@host" prefix word.
// It returns "" for a malformed prefix.
func parseSource(word string) string {
	raw := strings.TrimPrefix(word, prefixMarker)
	if raw == "" || raw[0] == userSeparator || raw[0] == hostSeparator {
		return ""
	}

	prefix := irc.ParsePrefix(raw)
	if prefix == nil {
		return ""
	}
	return prefix.Name
}

func trailing(params []string) string {
	return strings.TrimPrefix(strings.Join(params, " "), trailingMark)
}
