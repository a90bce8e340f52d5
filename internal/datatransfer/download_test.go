package datatransfer

import (
	"bytes"
	"context"
	"os"
	"testing"
)

func TestDownloadBinaryViaCopy(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "download")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	content := []byte("hello\nworld\n")
	if _, err := f.Write(content); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	n, err := Download(context.Background(), &out, f, true, 0, nil, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) || out.String() != string(content) {
		t.Fatalf("binary download must pass bytes through unchanged, got %q", out.String())
	}
}

func TestDownloadASCIIExpandsNewlines(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "download")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("a\nb\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if _, err := Download(context.Background(), &out, f, false, 0, nil, false, nil); err != nil {
		t.Fatal(err)
	}
	if out.String() != "a\r\nb\r\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestDownloadRespectsRestOffset(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "download")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("0123456789"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(5, 0); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if _, err := Download(context.Background(), &out, f, true, 5, nil, false, nil); err != nil {
		t.Fatal(err)
	}
	if out.String() != "56789" {
		t.Fatalf("expected transfer to start at the REST offset, got %q", out.String())
	}
}

func TestDownloadProgressCallback(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "download")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("0123456789"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatal(err)
	}

	var lastSeen int64
	var out bytes.Buffer
	_, err = Download(context.Background(), &out, f, true, 0, nil, false, func(n int64) { lastSeen = n })
	if err != nil {
		t.Fatal(err)
	}
	if lastSeen != 10 {
		t.Fatalf("expected progress callback to observe the final cumulative count, got %d", lastSeen)
	}
}
