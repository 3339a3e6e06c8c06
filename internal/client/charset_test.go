package client

import (
	"testing"
)

func TestCharset_Decode(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		in      []byte
		want    string
	}{
		{name: "utf-8 default", in: []byte("héllo"), want: "héllo"},
		{name: "invalid utf-8 replaced", in: []byte("a\xffb"), want: "a�b"},
		{name: "truncated sequence replaced", in: []byte("caf\xc3"), want: "caf�"},
		{name: "latin-1", charset: "iso-8859-1", in: []byte("caf\xe9"), want: "café"},
		{name: "windows-1251", charset: "windows-1251", in: []byte("\xcf\xf0\xe8\xe2\xe5\xf2"), want: "Привет"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := lookupCharset(tt.charset)
			if err != nil {
				t.Fatalf("lookupCharset(%q) error = %v", tt.charset, err)
			}
			if got := cs.decode(tt.in); got != tt.want {
				t.Errorf("decode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCharset_Encode(t *testing.T) {
	cs, err := lookupCharset("iso-8859-1")
	if err != nil {
		t.Fatalf("lookupCharset() error = %v", err)
	}
	if got := string(cs.encode("café")); got != "caf\xe9" {
		t.Errorf("encode() = %q, want %q", got, "caf\xe9")
	}

	utf8, _ := lookupCharset("")
	if got := string(utf8.encode("café")); got != "café" {
		t.Errorf("encode() = %q, want %q", got, "café")
	}
}

func TestLookupCharset_Unknown(t *testing.T) {
	if _, err := lookupCharset("klingon-8"); err == nil {
		t.Error("expected error for unknown charset")
	}
}
