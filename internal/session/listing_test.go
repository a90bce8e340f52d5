package session

import "testing"

func TestMlstReturnsSingleEntry(t *testing.T) {
	s := loggedIn(t)
	reply, quit := s.cmdMLST("hello.txt")
	if quit {
		t.Fatal("MLST should not quit")
	}
	if reply[:4] != "250-" {
		t.Fatalf("got %q", reply)
	}
}

func TestListWithoutDataConnectionRejected(t *testing.T) {
	s := loggedIn(t)
	reply, _ := s.cmdLIST("")
	if reply[:3] != "425" {
		t.Fatalf("expected LIST without PORT/PASV to be rejected, got %q", reply)
	}
}

func TestNlstOnMissingPathFails(t *testing.T) {
	s := loggedIn(t)
	reply, _ := s.cmdNLST("does-not-exist")
	if reply[:3] != "425" && reply[:3] != "550" {
		t.Fatalf("got %q", reply)
	}
}
