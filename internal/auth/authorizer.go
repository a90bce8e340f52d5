package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// AuthResult is the Result variant from spec §9 replacing
// exception-signalled authentication failure.
type AuthResult struct {
	OK      bool
	User    *User
	Message string
}

// Authorizer is the C6 contract (spec §4.6).
type Authorizer interface {
	AddUser(name, password, homeDir, perm string, loginMsg, quitMsg string) error
	AddAnonymous(homeDir, perm string) error
	OverridePerm(user, dir, perm string, recursive bool) error
	ValidateAuthentication(user, pass string) AuthResult
	HasPerm(user string, letter Perm, path string) bool
	GetUser(name string) (*User, bool)
	GetHomeDir(user string) (string, error)
	GetMsgLogin(user string) string
	GetMsgQuit(user string) string
	// ImpersonateUser / TerminateImpersonation are no-ops on the default
	// in-memory authorizer; a real-user (UNIX/Windows) authorizer
	// implementation would change the process's effective uid/gid here,
	// which is why such an implementation must refuse the
	// thread-per-connection and pre-fork concurrency models (spec §4.6,
	// §4.9).
	ImpersonateUser(user, pass string) error
	TerminateImpersonation(user string) error
}

// MemoryAuthorizer is the default, virtual-user Authorizer: it never
// touches process identity and is therefore safe under every
// concurrency model, including thread-per-connection.
type MemoryAuthorizer struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemoryAuthorizer creates an empty authorizer.
func NewMemoryAuthorizer() *MemoryAuthorizer {
	return &MemoryAuthorizer{users: make(map[string]*User)}
}

func (a *MemoryAuthorizer) AddUser(name, password, homeDir, perm, loginMsg, quitMsg string) error {
	normPerm, ok := ParsePermString(perm)
	if !ok {
		return fmt.Errorf("auth: malformed permission string %q", perm)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.users[name]; exists {
		return fmt.Errorf("auth: user %q already exists", name)
	}
	var hash string
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("auth: hashing password: %w", err)
		}
		hash = string(h)
	}
	if name != "anonymous" && HasPerm(normPerm, PermStore) {
		// spec §4.6: write permissions on anonymous must warn, not
		// fail; for a named user this is simply allowed.
	}
	a.users[name] = &User{
		Username:     name,
		PasswordHash: hash,
		HomeDir:      homeDir,
		Perm:         normPerm,
		LoginMsg:     loginMsg,
		QuitMsg:      quitMsg,
	}
	return nil
}

// AddAnonymous adds the "anonymous" user with an empty password. If perm
// grants write access, the caller is expected to have already logged a
// warning (spec §4.6); MemoryAuthorizer does not own a logger.
func (a *MemoryAuthorizer) AddAnonymous(homeDir, perm string) error {
	return a.AddUser("anonymous", "", homeDir, perm, "", "")
}

func (a *MemoryAuthorizer) OverridePerm(user, dir, perm string, recursive bool) error {
	normPerm, ok := ParsePermString(perm)
	if !ok {
		return fmt.Errorf("auth: malformed permission string %q", perm)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[user]
	if !ok {
		return fmt.Errorf("auth: unknown user %q", user)
	}
	u.Overrides = append(u.Overrides, PermOverride{Dir: dir, Perm: normPerm, Recursive: recursive})
	return nil
}

// ValidateAuthentication checks the password synchronously and never
// blocks; it applies no delay of its own to a failed login.
func (a *MemoryAuthorizer) ValidateAuthentication(user, pass string) AuthResult {
	a.mu.RLock()
	u, ok := a.users[user]
	a.mu.RUnlock()
	if !ok {
		return AuthResult{OK: false, Message: "unknown user"}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Locked {
		return AuthResult{OK: false, Message: "account locked"}
	}
	if u.MaxConnections > 0 && u.ActiveConnections >= u.MaxConnections {
		return AuthResult{OK: false, Message: "too many connections for this user"}
	}

	ok = (user == "anonymous") || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pass)) == nil
	if !ok {
		u.LoginAttempts++
		return AuthResult{OK: false, Message: "530 Login incorrect", User: u}
	}
	u.LoginAttempts = 0
	return AuthResult{OK: true, User: u}
}

func (a *MemoryAuthorizer) HasPerm(user string, letter Perm, path string) bool {
	a.mu.RLock()
	u, ok := a.users[user]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	if path == "" {
		return HasPerm(u.Perm, letter)
	}
	return HasPerm(u.EffectivePerm(path), letter)
}

func (a *MemoryAuthorizer) GetUser(name string) (*User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[name]
	return u, ok
}

func (a *MemoryAuthorizer) GetHomeDir(user string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.users[user]
	if !ok {
		return "", fmt.Errorf("auth: unknown user %q", user)
	}
	return u.HomeDir, nil
}

func (a *MemoryAuthorizer) GetMsgLogin(user string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if u, ok := a.users[user]; ok {
		return u.LoginMsg
	}
	return ""
}

func (a *MemoryAuthorizer) GetMsgQuit(user string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if u, ok := a.users[user]; ok {
		return u.QuitMsg
	}
	return ""
}

func (a *MemoryAuthorizer) ImpersonateUser(user, pass string) error { return nil }
func (a *MemoryAuthorizer) TerminateImpersonation(user string) error { return nil }

// IncrementConnections / DecrementConnections track ActiveConnections
// for the per-user MaxConnections cap (SPEC_FULL §3).
func (a *MemoryAuthorizer) IncrementConnections(user string) {
	a.mu.RLock()
	u, ok := a.users[user]
	a.mu.RUnlock()
	if !ok {
		return
	}
	u.mu.Lock()
	u.ActiveConnections++
	u.mu.Unlock()
}

func (a *MemoryAuthorizer) DecrementConnections(user string) {
	a.mu.RLock()
	u, ok := a.users[user]
	a.mu.RUnlock()
	if !ok {
		return
	}
	u.mu.Lock()
	if u.ActiveConnections > 0 {
		u.ActiveConnections--
	}
	u.mu.Unlock()
}
