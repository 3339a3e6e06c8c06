package client

import "bytes"

// lineBuffer reassembles protocol lines from a byte stream. Bytes after the
// last line feed are carried over to the next feed, so a line that straddles
// two reads is emitted once, whole.
type lineBuffer struct {
	carry []byte
	max   int

	// skipping is set after an overflow until the dropped line's
	// terminator has been seen.
	skipping bool
}

func newLineBuffer(max int) *lineBuffer {
	return &lineBuffer{max: max}
}

// feed appends p to the carry-over and calls fn for every complete line,
// without its terminator. A CR before the LF is stripped. The slice passed
// to fn is only valid during the call.
//
// If the unterminated remainder grows beyond max bytes the whole line is
// discarded, up to and including its line feed, and feed reports the
// overflow once.
func (b *lineBuffer) feed(p []byte, fn func(line []byte)) (overflow bool) {
	if b.skipping {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			return false
		}
		p = p[i+1:]
		b.skipping = false
	}

	data := append(b.carry, p...)

	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		fn(bytes.TrimSuffix(data[:i], []byte{'\r'}))
		data = data[i+1:]
	}

	if b.max > 0 && len(data) > b.max {
		b.carry = b.carry[:0]
		b.skipping = true
		return true
	}

	// data may alias b.carry; copy moves the remainder to the front.
	n := copy(b.carry[:cap(b.carry)], data)
	if n < len(data) {
		b.carry = bytes.Clone(data)
		return false
	}
	b.carry = b.carry[:n]
	return false
}

// pending reports how many unterminated bytes are buffered.
func (b *lineBuffer) pending() int {
	return len(b.carry)
}
