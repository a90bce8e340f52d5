package auth

import "testing"

func TestAddUserRejectsMalformedPerm(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.AddUser("bob", "pw", "/home/bob", "xyz", "", ""); err == nil {
		t.Fatal("expected malformed permission string to be rejected")
	}
}

func TestValidateAuthenticationUnknownUser(t *testing.T) {
	a := NewMemoryAuthorizer()
	result := a.ValidateAuthentication("nobody", "pw")
	if result.OK {
		t.Fatal("expected unknown user to fail authentication")
	}
}

func TestValidateAuthenticationWrongPassword(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.AddUser("bob", "correct", "/home/bob", "elr", "", ""); err != nil {
		t.Fatal(err)
	}
	if a.ValidateAuthentication("bob", "wrong").OK {
		t.Fatal("expected wrong password to fail authentication")
	}
	if !a.ValidateAuthentication("bob", "correct").OK {
		t.Fatal("expected correct password to succeed")
	}
}

func TestAnonymousNeedsNoPassword(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.AddAnonymous("/home/ftp", "elr"); err != nil {
		t.Fatal(err)
	}
	if !a.ValidateAuthentication("anonymous", "whatever@example.com").OK {
		t.Fatal("expected anonymous login to succeed with any password")
	}
}

func TestMaxConnectionsEnforced(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.AddUser("bob", "pw", "/home/bob", "elr", "", ""); err != nil {
		t.Fatal(err)
	}
	u, _ := a.GetUser("bob")
	u.MaxConnections = 1
	a.IncrementConnections("bob")
	if a.ValidateAuthentication("bob", "pw").OK {
		t.Fatal("expected connection cap to block further logins")
	}
	a.DecrementConnections("bob")
	if !a.ValidateAuthentication("bob", "pw").OK {
		t.Fatal("expected login to succeed once a connection slot frees up")
	}
}

func TestEffectivePermLongestPrefixWins(t *testing.T) {
	a := NewMemoryAuthorizer()
	if err := a.AddUser("bob", "pw", "/home/bob", "elr", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := a.OverridePerm("bob", "/pub", "elr", true); err != nil {
		t.Fatal(err)
	}
	if err := a.OverridePerm("bob", "/pub/incoming", "elradfmw", true); err != nil {
		t.Fatal(err)
	}
	u, _ := a.GetUser("bob")
	if !HasPerm(u.EffectivePerm("/pub/incoming/file.txt"), PermStore) {
		t.Fatal("expected the more specific /pub/incoming override to grant write")
	}
	if HasPerm(u.EffectivePerm("/pub/other"), PermStore) {
		t.Fatal("expected /pub/other to fall back to the less specific /pub override")
	}
}

func TestParsePermStringNormalizesOrder(t *testing.T) {
	got, ok := ParsePermString("rlew")
	if !ok {
		t.Fatal("expected valid permission string to parse")
	}
	if got != "elrw" {
		t.Fatalf("expected normalized order elrw, got %q", got)
	}
}
