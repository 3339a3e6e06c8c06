package session

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind separates protocol traffic from the session's own status lines.
type Kind int

const (
	KindEvent Kind = iota
	KindInfo
	KindError
)

// Record is one timestamped line for display.
type Record struct {
	Time    time.Time
	Kind    Kind
	Command string
	Source  string
	Text    string
}

// Format renders r as a single display line, e.g.
// "14:05 <nick> PRIVMSG #chan hello there".
func Format(r Record) string {
	var b strings.Builder
	b.WriteString(r.Time.Format("15:04"))
	b.WriteByte(' ')

	switch r.Kind {
	case KindInfo:
		b.WriteString("* ")
	case KindError:
		b.WriteString("Error: ")
	default:
		if r.Source != "" {
			fmt.Fprintf(&b, "<%s> ", r.Source)
		}
	}
	b.WriteString(r.Text)
	return b.String()
}

// Sink receives records. Only the session loop calls Render, so
// implementations need no locking of their own.
type Sink interface {
	Render(r Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record) error

func (f SinkFunc) Render(r Record) error {
	return f(r)
}

// MultiSink renders every record to each sink in order.
type MultiSink []Sink

func (m MultiSink) Render(r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Render(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriterSink writes one formatted line per record.
type WriterSink struct {
	w io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Render(r Record) error {
	_, err := io.WriteString(s.w, Format(r)+"\n")
	return err
}
