// Package tui is the interactive terminal front end: a scrolling record
// view above a single input line.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/ircterm/internal/command"
	"github.com/omochice/ircterm/internal/session"
	"github.com/omochice/ircterm/pkg/protocol"
)

// RecordMsg delivers a record from the session loop to the model.
type RecordMsg session.Record

// DoneMsg tells the model the session has ended.
type DoneMsg struct {
	Status session.ExitStatus
	Err    error
}

type sendErrMsg struct {
	err error
}

// SendFunc hands an event to the session.
type SendFunc func(ctx context.Context, ev protocol.Event) error

const sendTimeout = 10 * time.Second

var (
	timeStyle   = lipgloss.NewStyle().Faint(true)
	sourceStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
)

// Model is the bubbletea model.
type Model struct {
	viewport viewport.Model
	input    textinput.Model
	lines    []string

	title       string
	parser      *command.Parser
	send        SendFunc
	quitMessage string

	quitting bool
}

// New returns a model that parses input with parser and sends the
// resulting events with send.
func New(title string, parser *command.Parser, send SendFunc, quitMessage string) Model {
	m := Model{
		viewport:    viewport.New(80, 20),
		input:       textinput.New(),
		title:       title,
		parser:      parser,
		send:        send,
		quitMessage: quitMessage,
	}

	m.viewport.KeyMap = viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		Up:       key.NewBinding(key.WithKeys("ctrl+k")),
		Down:     key.NewBinding(key.WithKeys("ctrl+j")),
	}

	m.input.Focus()
	m.input.Placeholder = "message or /command"
	m.input.Prompt = "> "

	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		vpCmd tea.Cmd
		tiCmd tea.Cmd
	)

	m.viewport, vpCmd = m.viewport.Update(msg)
	m.input, tiCmd = m.input.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		// Title line, blank line, input line.
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.refresh(true)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.quitting {
				return m, tea.Quit
			}
			m.quitting = true
			return m, m.dispatch(protocol.Quit{Reason: m.quitMessage})
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			ev, err := m.parser.Parse(line)
			if err != nil {
				m.appendLocal(session.KindError, err.Error())
				break
			}
			if ev == nil {
				break
			}
			if _, ok := ev.(protocol.Quit); ok {
				m.quitting = true
			}
			return m, m.dispatch(ev)
		}

	case RecordMsg:
		m.append(render(session.Record(msg)))

	case sendErrMsg:
		m.appendLocal(session.KindError, msg.err.Error())
		if m.quitting {
			return m, tea.Quit
		}

	case DoneMsg:
		return m, tea.Quit
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) View() string {
	return fmt.Sprintf("%s\n%s\n\n%s",
		titleStyle.Render(m.title),
		m.viewport.View(),
		m.input.View(),
	)
}

// Lines returns the rendered lines, for tests.
func (m Model) Lines() []string {
	return m.lines
}

// dispatch sends ev off the update loop; the session may block on a full
// queue.
func (m Model) dispatch(ev protocol.Event) tea.Cmd {
	send := m.send
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := send(ctx, ev); err != nil {
			return sendErrMsg{err: fmt.Errorf("failed to send %s: %w", ev.Command(), err)}
		}
		return nil
	}
}

func (m *Model) appendLocal(kind session.Kind, text string) {
	m.append(render(session.Record{Time: time.Now(), Kind: kind, Text: text}))
}

func (m *Model) append(line string) {
	m.lines = append(m.lines, line)
	m.refresh(m.viewport.AtBottom())
}

func (m *Model) refresh(follow bool) {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func render(r session.Record) string {
	ts := timeStyle.Render(r.Time.Format("15:04"))
	switch r.Kind {
	case session.KindInfo:
		return ts + " " + infoStyle.Render("* "+r.Text)
	case session.KindError:
		return ts + " " + errorStyle.Render("Error: "+r.Text)
	}
	if r.Source == "" {
		return ts + " " + r.Text
	}
	return ts + " " + sourceStyle.Render("<"+r.Source+">") + " " + r.Text
}
