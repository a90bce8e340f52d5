package datatransfer

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
)

func TestUploadASCIIStripsCR(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "upload")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	n, err := Upload(context.Background(), f, strings.NewReader("line1\r\nline2\r\n"), false, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("line1\r\nline2\r\n")) {
		t.Fatalf("reported byte count should reflect input size, got %d", n)
	}
	data, _ := os.ReadFile(f.Name())
	if string(data) != "line1\nline2\n" {
		t.Fatalf("got %q", data)
	}
}

func TestUploadBinaryPassesThrough(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "upload")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	raw := []byte("binary\r\ndata")
	if _, err := Upload(context.Background(), f, bytes.NewReader(raw), true, nil, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(f.Name())
	if !bytes.Equal(data, raw) {
		t.Fatalf("binary upload must not convert line endings, got %q", data)
	}
}

func TestUploadContextCancellation(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "upload")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Upload(ctx, f, strings.NewReader("data"), true, nil, nil)
	if err == nil {
		t.Fatal("expected context cancellation to abort the upload")
	}
}

func TestUniqueFilename(t *testing.T) {
	taken := map[string]bool{"base": true, "base.0": true, "base.1": true}
	exists := func(c string) bool { return taken[c] }
	name, ok := UniqueFilename(exists, "base", 100)
	if !ok {
		t.Fatal("expected a name to be found")
	}
	if name != "base.2" {
		t.Fatalf("expected base.2, got %q", name)
	}
}

func TestUniqueFilenameGivesUpAfterMaxAttempts(t *testing.T) {
	exists := func(c string) bool { return true }
	_, ok := UniqueFilename(exists, "base", 5)
	if ok {
		t.Fatal("expected failure when every candidate is taken")
	}
}
