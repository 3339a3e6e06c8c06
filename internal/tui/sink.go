package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/omochice/ircterm/internal/session"
)

// Sink forwards records to a running program. Send returns immediately
// once the program has exited.
type Sink struct {
	program *tea.Program
}

func NewSink(program *tea.Program) *Sink {
	return &Sink{program: program}
}

func (s *Sink) Render(r session.Record) error {
	s.program.Send(RecordMsg(r))
	return nil
}
