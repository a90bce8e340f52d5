package datatransfer

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestASCIIEncoderExpandsNewlines(t *testing.T) {
	enc := newASCIIEncoder(strings.NewReader("a\nb\nc"))
	out, err := io.ReadAll(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "a\r\nb\r\nc" {
		t.Fatalf("got %q", out)
	}
}

func TestASCIIEncoderAllNewlinesDoesNotOverflow(t *testing.T) {
	in := strings.Repeat("\n", 10000)
	enc := newASCIIEncoder(strings.NewReader(in))
	buf := make([]byte, 3) // small, non-power-of-two out buffer stresses the boundary
	var total int
	for {
		n, err := enc.Read(buf)
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			t.Fatal("Read returned 0, nil without EOF")
		}
	}
	if total != len(in)*2 {
		t.Fatalf("expected %d expanded bytes, got %d", len(in)*2, total)
	}
}

func TestASCIIDecoderStripsCR(t *testing.T) {
	var buf bytes.Buffer
	dec := newASCIIDecoder(&buf)
	if _, err := dec.Write([]byte("a\r\nb\r\nc")); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "a\nb\nc" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestASCIIDecoderCarriesPendingCRAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	dec := newASCIIDecoder(&buf)
	if _, err := dec.Write([]byte("a\r")); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Write([]byte("\nb")); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "a\nb" {
		t.Fatalf("CRLF split across writes should still collapse, got %q", buf.String())
	}
}

func TestASCIIDecoderFlushEmitsTrailingBareCR(t *testing.T) {
	var buf bytes.Buffer
	dec := newASCIIDecoder(&buf)
	if _, err := dec.Write([]byte("a\r")); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "a\r" {
		t.Fatalf("trailing bare CR should be flushed verbatim, got %q", buf.String())
	}
}
