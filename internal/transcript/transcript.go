// Package transcript persists displayed records to a file and reads them
// back.
//
// The file is a sequence of length-delimited protobuf messages:
//
//	message Record {
//	  int64  time_unix_nano = 1;
//	  int32  kind           = 2;
//	  string command        = 3;
//	  string source         = 4;
//	  string text           = 5;
//	}
package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/omochice/ircterm/internal/session"
)

const (
	fieldTime    protowire.Number = 1
	fieldKind    protowire.Number = 2
	fieldCommand protowire.Number = 3
	fieldSource  protowire.Number = 4
	fieldText    protowire.Number = 5
)

const (
	// maxRecordSize bounds a single record when reading.
	maxRecordSize = 1 << 20

	maxVarintLen = 10
)

// ErrCorrupt is returned when a transcript cannot be decoded.
var ErrCorrupt = errors.New("corrupt transcript")

// Writer appends records to a transcript. It implements session.Sink.
type Writer struct {
	w   *bufio.Writer
	f   *os.File
	msg []byte
	buf []byte
}

// Create opens path for appending, creating it if needed.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	w := NewWriter(f)
	w.f = f
	return w, nil
}

// NewWriter writes records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Render appends r and flushes, so a crash loses at most the record being
// written.
func (w *Writer) Render(r session.Record) error {
	w.msg = appendRecord(w.msg[:0], r)
	w.buf = protowire.AppendVarint(w.buf[:0], uint64(len(w.msg)))
	w.buf = append(w.buf, w.msg...)

	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return w.w.Flush()
}

// Close flushes and closes the file opened by Create.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if w.f != nil {
		err = errors.Join(err, w.f.Close())
	}
	return err
}

// Reader reads records written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (session.Record, error) {
	size, err := readVarint(r.r)
	if err != nil {
		return session.Record{}, err
	}
	if size > maxRecordSize {
		return session.Record{}, fmt.Errorf("%w: record of %d bytes", ErrCorrupt, size)
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(r.r, msg); err != nil {
		return session.Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return consumeRecord(msg)
}

// Replay writes every record in src to sink until end of file.
func Replay(src io.Reader, sink session.Sink) error {
	r := NewReader(src)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sink.Render(rec); err != nil {
			return err
		}
	}
}

func appendRecord(b []byte, r session.Record) []byte {
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Time.UnixNano()))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	for _, f := range []struct {
		num protowire.Number
		s   string
	}{
		{fieldCommand, r.Command},
		{fieldSource, r.Source},
		{fieldText, r.Text},
	} {
		if f.s == "" {
			continue
		}
		b = protowire.AppendTag(b, f.num, protowire.BytesType)
		b = protowire.AppendString(b, f.s)
	}
	return b
}

func consumeRecord(b []byte) (session.Record, error) {
	var r session.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Time = time.Unix(0, int64(v))
			b = b[n:]
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			r.Kind = session.Kind(v)
			b = b[n:]
		case typ == protowire.BytesType && (num == fieldCommand || num == fieldSource || num == fieldText):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			switch num {
			case fieldCommand:
				r.Command = s
			case fieldSource:
				r.Source = s
			case fieldText:
				r.Text = s
			}
			b = b[n:]
		default:
			// Unknown fields from newer writers are skipped.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

// readVarint reads a length prefix. A clean end of file before the first
// byte is io.EOF; anything else cut short is corruption.
func readVarint(r io.ByteReader) (uint64, error) {
	var buf [maxVarintLen]byte
	for i := range buf {
		c, err := r.ReadByte()
		if err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: truncated length prefix", ErrCorrupt)
		}
		buf[i] = c
		if c < 0x80 {
			v, n := protowire.ConsumeVarint(buf[:i+1])
			if n < 0 {
				return 0, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: length prefix overflow", ErrCorrupt)
}
