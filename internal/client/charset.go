package client

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

const replacementChar = "�"

// charset converts between wire bytes and UTF-8 text. Decoding never fails:
// invalid sequences are replaced with U+FFFD.
type charset struct {
	enc encoding.Encoding
}

// lookupCharset resolves a WHATWG encoding label such as "utf-8",
// "iso-8859-1" or "windows-1251". The empty name means UTF-8.
func lookupCharset(name string) (charset, error) {
	if name == "" {
		return charset{}, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return charset{}, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return charset{enc: enc}, nil
}

func (c charset) decode(b []byte) string {
	if c.enc == nil {
		return strings.ToValidUTF8(string(b), replacementChar)
	}
	s, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), replacementChar)
	}
	return strings.ToValidUTF8(string(s), replacementChar)
}

func (c charset) encode(s string) []byte {
	if c.enc == nil {
		return []byte(s)
	}
	b, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}
