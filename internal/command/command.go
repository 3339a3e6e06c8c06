// Package command turns lines typed by the user into protocol events.
//
// Lines starting with '/' are commands:
//
//	/join #channel
//	/part [#channel] [reason]
//	/msg target text
//	/notice target text
//	/quit [reason]
//
// Anything else is a message to the current target: the channel joined
// last, or the configured default.
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omochice/ircterm/pkg/protocol"
)

var (
	// ErrUnknownCommand is returned for a '/' command that is not supported.
	ErrUnknownCommand = errors.New("command not supported")

	// ErrNoTarget is returned for plain text when no channel was joined and
	// no default target is configured.
	ErrNoTarget = errors.New("no target: join a channel first")

	// ErrNotEnoughParameters is wrapped by *Error when a command is
	// missing an argument.
	ErrNotEnoughParameters = errors.New("not enough parameters")
)

// Error reports a command that could not be turned into an event.
type Error struct {
	Command string
	Usage   string
	Err     error
}

func (e *Error) Error() string {
	if e.Usage == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v (usage: %s)", e.Command, e.Err, e.Usage)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type commandDef struct {
	usage string
	parse func(p *Parser, args []string, rest string) (protocol.Event, error)
}

var commands = map[string]commandDef{
	"/join":   {usage: "/join #channel", parse: (*Parser).join},
	"/part":   {usage: "/part [#channel] [reason]", parse: (*Parser).part},
	"/msg":    {usage: "/msg target text", parse: (*Parser).msg},
	"/notice": {usage: "/notice target text", parse: (*Parser).notice},
	"/quit":   {usage: "/quit [reason]", parse: (*Parser).quit},
}

// Parser keeps track of the current target. It is not safe for concurrent
// use; it belongs to the goroutine reading user input.
type Parser struct {
	target string
}

// NewParser returns a parser whose current target starts as
// defaultTarget, which may be empty.
func NewParser(defaultTarget string) *Parser {
	return &Parser{target: defaultTarget}
}

// Target returns the current target for plain text.
func (p *Parser) Target() string {
	return p.target
}

// Parse converts one input line. It returns a nil event and nil error for
// a blank line.
func (p *Parser) Parse(line string) (protocol.Event, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	if !strings.HasPrefix(line, "/") {
		if p.target == "" {
			return nil, ErrNoTarget
		}
		return protocol.PrivateMessage{Target: p.target, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)

	cmd, ok := commands[name]
	if !ok {
		return nil, &Error{Command: name, Err: ErrUnknownCommand}
	}

	ev, err := cmd.parse(p, strings.Fields(rest), rest)
	if err != nil {
		return nil, &Error{Command: name, Usage: cmd.usage, Err: err}
	}
	return ev, nil
}

func (p *Parser) join(args []string, _ string) (protocol.Event, error) {
	if len(args) == 0 {
		return nil, ErrNotEnoughParameters
	}
	p.target = args[0]
	return protocol.Join{Channel: args[0]}, nil
}

func (p *Parser) part(args []string, rest string) (protocol.Event, error) {
	channel := p.target
	reason := rest
	if len(args) > 0 && isChannel(args[0]) {
		channel = args[0]
		reason = strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	}
	if channel == "" {
		return nil, ErrNotEnoughParameters
	}
	if channel == p.target {
		p.target = ""
	}
	return protocol.Part{Channel: channel, Reason: reason}, nil
}

func (p *Parser) msg(args []string, rest string) (protocol.Event, error) {
	target, text, err := targetAndText(args, rest)
	if err != nil {
		return nil, err
	}
	return protocol.PrivateMessage{Target: target, Text: text}, nil
}

func (p *Parser) notice(args []string, rest string) (protocol.Event, error) {
	target, text, err := targetAndText(args, rest)
	if err != nil {
		return nil, err
	}
	return protocol.Notice{Target: target, Text: text}, nil
}

func (p *Parser) quit(_ []string, rest string) (protocol.Event, error) {
	return protocol.Quit{Reason: rest}, nil
}

func targetAndText(args []string, rest string) (string, string, error) {
	if len(args) < 2 {
		return "", "", ErrNotEnoughParameters
	}
	text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	return args[0], text, nil
}

func isChannel(s string) bool {
	return s != "" && strings.ContainsRune("#&+!", rune(s[0]))
}
