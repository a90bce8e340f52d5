package ftpd_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"

	"ftpd/internal/auth"
	"ftpd/internal/ftpd"
)

// startTestServer boots a Server on an ephemeral loopback port with a
// single "tester"/"secret" user rooted at a temp directory, and returns
// a client connected and logged in, per the end-to-end scenarios this
// module's scope calls for (login, CWD/LIST, STOR/RETR, REST resume,
// delete/rename, PASV/active data transfer).
func startTestServer(t *testing.T) (*ftp.ServerConn, string) {
	t.Helper()
	root := t.TempDir()

	authorizer := auth.NewMemoryAuthorizer()
	if err := authorizer.AddUser("tester", "secret", root, "elradfmw", "welcome", "bye"); err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	server, err := ftpd.New(
		ftpd.WithAddr(addr),
		ftpd.WithAuthorizer(authorizer),
		ftpd.WithIdleTimeout(10*time.Second),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go server.ListenAndServe(ctx)
	t.Cleanup(cancel)

	var client *ftp.ServerConn
	for attempt := 0; attempt < 50; attempt++ {
		client, err = ftp.Dial(addr, ftp.DialWithTimeout(2*time.Second))
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	t.Cleanup(func() { client.Quit() })

	if err := client.Login("tester", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return client, root
}

func TestLoginAndPWD(t *testing.T) {
	client, _ := startTestServer(t)
	dir, err := client.CurrentDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/" {
		t.Fatalf("expected initial cwd /, got %q", dir)
	}
}

func TestStorAndRetr(t *testing.T) {
	client, _ := startTestServer(t)
	content := []byte("hello from the test suite\n")
	if err := client.Stor("greeting.txt", bytes.NewReader(content)); err != nil {
		t.Fatalf("STOR: %v", err)
	}

	resp, err := client.Retr("greeting.txt")
	if err != nil {
		t.Fatalf("RETR: %v", err)
	}
	defer resp.Close()
	got, err := io.ReadAll(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round-tripped content mismatch: got %q, want %q", got, content)
	}
}

func TestMkdirCwdListDelete(t *testing.T) {
	client, root := startTestServer(t)
	if err := client.MakeDir("archive"); err != nil {
		t.Fatalf("MKD: %v", err)
	}
	if err := client.ChangeDir("archive"); err != nil {
		t.Fatalf("CWD: %v", err)
	}
	if err := client.Stor("a.txt", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("STOR in subdirectory: %v", err)
	}

	entries, err := client.List("")
	if err != nil {
		t.Fatalf("LIST: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("unexpected listing: %+v", entries)
	}

	if err := client.Delete("a.txt"); err != nil {
		t.Fatalf("DELE: %v", err)
	}
	if err := client.ChangeDirToParent(); err != nil {
		t.Fatalf("CDUP: %v", err)
	}
	if err := client.RemoveDir("archive"); err != nil {
		t.Fatalf("RMD: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "archive")); !os.IsNotExist(err) {
		t.Fatalf("expected archive directory to be gone on disk")
	}
}

func TestRename(t *testing.T) {
	client, _ := startTestServer(t)
	if err := client.Stor("old.txt", bytes.NewReader([]byte("data"))); err != nil {
		t.Fatal(err)
	}
	if err := client.Rename("old.txt", "new.txt"); err != nil {
		t.Fatalf("RNFR/RNTO: %v", err)
	}
	resp, err := client.Retr("new.txt")
	if err != nil {
		t.Fatalf("expected renamed file to be retrievable: %v", err)
	}
	resp.Close()
}

func TestRestResume(t *testing.T) {
	client, _ := startTestServer(t)
	full := []byte("0123456789")
	if err := client.Stor("resume.bin", bytes.NewReader(full)); err != nil {
		t.Fatal(err)
	}
	resp, err := client.RetrFrom("resume.bin", 5)
	if err != nil {
		t.Fatalf("REST+RETR: %v", err)
	}
	defer resp.Close()
	got, err := io.ReadAll(resp)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "56789" {
		t.Fatalf("expected resumed transfer to start at byte 5, got %q", got)
	}
}

func TestEscapingPathIsRejected(t *testing.T) {
	client, _ := startTestServer(t)
	if err := client.ChangeDir("/../../etc"); err == nil {
		t.Fatal("expected a path escaping the virtual root to be rejected")
	}
}
