package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sorcix/irc"
)

var (
	// ErrUnserializable is returned for Unrecognized and Empty events.
	ErrUnserializable = errors.New("event cannot be sent")

	// ErrMissingParameter is returned when a required parameter is empty.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrInvalidParameter is returned when a parameter would break the line
	// framing: a line break or NUL anywhere, or a space in a middle parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// SerializeError reports an event that could not be encoded. Payload holds
// the offending value so callers can log it.
type SerializeError struct {
	Event   Event
	Payload string
	Err     error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("serialize %T %q: %v", e.Event, e.Payload, e.Err)
}

func (e *SerializeError) Unwrap() error {
	return e.Err
}

// Serialize encodes e as protocol line(s), each ending in LineTerminator.
// Every variant but Register yields exactly one line; Register yields its
// registration sequence (PASS when a password is set, NICK, USER).
// A non-empty Source is written as the line prefix.
func Serialize(e Event) (string, error) {
	switch e := e.(type) {
	case Register:
		var b strings.Builder
		if e.Password != "" {
			if err := middle(e, e.Password); err != nil {
				return "", err
			}
			b.WriteString(encode("", irc.PASS, e.Password))
		}
		if err := middle(e, e.Nickname, e.Username); err != nil {
			return "", err
		}
		if err := text(e, e.Realname); err != nil {
			return "", err
		}
		b.WriteString(encode("", irc.NICK, e.Nickname))
		b.WriteString(encode("", irc.USER, e.Username, "0", "*", trailingMark+e.Realname))
		return b.String(), nil

	case Ping:
		if err := text(e, e.Token); err != nil {
			return "", err
		}
		return encode("", irc.PING, trailingMark+e.Token), nil

	case Pong:
		if err := text(e, e.Token); err != nil {
			return "", err
		}
		return encode("", irc.PONG, trailingMark+e.Token), nil

	case Join:
		if err := check(e, e.Source, e.Channel); err != nil {
			return "", err
		}
		return encode(e.Source, irc.JOIN, e.Channel), nil

	case Part:
		if err := check(e, e.Source, e.Channel); err != nil {
			return "", err
		}
		if err := text(e, e.Reason); err != nil {
			return "", err
		}
		if e.Reason == "" {
			return encode(e.Source, irc.PART, e.Channel), nil
		}
		return encode(e.Source, irc.PART, e.Channel, trailingMark+e.Reason), nil

	case Notice:
		if err := check(e, e.Source, e.Target); err != nil {
			return "", err
		}
		if err := text(e, e.Text); err != nil {
			return "", err
		}
		return encode(e.Source, irc.NOTICE, e.Target, trailingMark+e.Text), nil

	case PrivateMessage:
		if err := check(e, e.Source, e.Target); err != nil {
			return "", err
		}
		if err := text(e, e.Text); err != nil {
			return "", err
		}
		return encode(e.Source, irc.PRIVMSG, e.Target, trailingMark+e.Text), nil

	case Quit:
		if err := checkSource(e, e.Source); err != nil {
			return "", err
		}
		if err := text(e, e.Reason); err != nil {
			return "", err
		}
		if e.Reason == "" {
			return encode(e.Source, irc.QUIT), nil
		}
		return encode(e.Source, irc.QUIT, trailingMark+e.Reason), nil

	case Unrecognized:
		return "", &SerializeError{Event: e, Payload: e.Raw, Err: ErrUnserializable}

	case Empty:
		return "", &SerializeError{Event: e, Err: ErrUnserializable}

	default:
		return "", &SerializeError{Event: e, Payload: fmt.Sprintf("%v", e), Err: ErrUnserializable}
	}
}

// Display renders e for humans: the command and its parameters without
// prefix or trailing marker, e.g. "PRIVMSG #chan hello there".
// Unrecognized displays its raw line.
func Display(e Event) string {
	switch e := e.(type) {
	case Register:
		return join(irc.NICK, e.Nickname)
	case Ping:
		return join(irc.PING, e.Token)
	case Pong:
		return join(irc.PONG, e.Token)
	case Join:
		return join(irc.JOIN, e.Channel)
	case Part:
		return join(irc.PART, e.Channel, e.Reason)
	case Notice:
		return join(irc.NOTICE, e.Target, e.Text)
	case PrivateMessage:
		return join(irc.PRIVMSG, e.Target, e.Text)
	case Quit:
		return join(irc.QUIT, e.Reason)
	case Unrecognized:
		return e.Raw
	default:
		return ""
	}
}

func encode(source, command string, params ...string) string {
	var b strings.Builder
	if source != "" {
		b.WriteString(prefixMarker)
		b.WriteString(source)
		b.WriteByte(' ')
	}
	b.WriteString(command)
	for _, p := range params {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	b.WriteString(LineTerminator)
	return b.String()
}

func join(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// check validates an optional source followed by required middle params.
func check(e Event, src string, params ...string) error {
	if err := checkSource(e, src); err != nil {
		return err
	}
	return middle(e, params...)
}

func checkSource(e Event, src string) error {
	if src == "" {
		return nil
	}
	return middle(e, src)
}

func middle(e Event, params ...string) error {
	for _, p := range params {
		if p == "" {
			return &SerializeError{Event: e, Payload: p, Err: ErrMissingParameter}
		}
		if strings.ContainsAny(p, " \r\n\x00") || strings.HasPrefix(p, trailingMark) {
			return &SerializeError{Event: e, Payload: p, Err: ErrInvalidParameter}
		}
	}
	return nil
}

func text(e Event, s string) error {
	if strings.ContainsAny(s, "\r\n\x00") {
		return &SerializeError{Event: e, Payload: s, Err: ErrInvalidParameter}
	}
	return nil
}
