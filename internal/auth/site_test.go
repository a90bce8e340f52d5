package auth

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSiteAddUserRequiresAdmin(t *testing.T) {
	a := NewMemoryAuthorizer()
	site := NewSiteAdmin(a, "admin")
	if _, err := site.AddUser("nobody", "bob pw /home/bob elr"); err == nil {
		t.Fatal("expected non-admin requester to be rejected")
	}
}

func TestSiteAddUserThenListAndInfo(t *testing.T) {
	a := NewMemoryAuthorizer()
	site := NewSiteAdmin(a, "admin")

	if _, err := site.AddUser("admin", "bob pw /home/bob elr"); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.GetUser("bob"); !ok {
		t.Fatal("expected bob to exist after SITE ADDUSER")
	}

	listing, err := site.ListUsers("admin")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(listing, "bob") {
		t.Fatalf("expected listing to mention bob, got %q", listing)
	}

	info, err := site.UserInfo("admin", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(info, "/home/bob") {
		t.Fatalf("expected user info to include home dir, got %q", info)
	}
}

func TestSiteDelUserRefusesActiveConnections(t *testing.T) {
	a := NewMemoryAuthorizer()
	site := NewSiteAdmin(a, "admin")
	site.AddUser("admin", "bob pw /home/bob elr")
	a.IncrementConnections("bob")

	if _, err := site.DelUser("admin", "bob"); err == nil {
		t.Fatal("expected deletion to be refused while bob has an active connection")
	}
	a.DecrementConnections("bob")
	if _, err := site.DelUser("admin", "bob"); err != nil {
		t.Fatalf("expected deletion to succeed once idle: %v", err)
	}
	if _, ok := a.GetUser("bob"); ok {
		t.Fatal("expected bob to be gone")
	}
}

func TestSiteDelUserRefusesAdminAccount(t *testing.T) {
	a := NewMemoryAuthorizer()
	site := NewSiteAdmin(a, "admin")
	a.AddUser("admin", "pw", "/home/admin", "elr", "", "")
	if _, err := site.DelUser("admin", "admin"); err == nil {
		t.Fatal("expected deleting the administrator account to be refused")
	}
}

func TestSaveAndLoadUsersRoundTrip(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.AddUser("bob", "secret", "/home/bob", "elradfmw", "hi", "bye"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "users.json")
	if err := a.SaveUsersToFile(path); err != nil {
		t.Fatal(err)
	}

	b := NewMemoryAuthorizer()
	if err := b.LoadUsersFromFile(path); err != nil {
		t.Fatal(err)
	}
	if !b.ValidateAuthentication("bob", "secret").OK {
		t.Fatal("expected the reloaded user's password hash to still validate")
	}
}

func TestLoadUsersFromMissingFileIsNoop(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.LoadUsersFromFile(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("expected a missing file to be a no-op, got %v", err)
	}
}
