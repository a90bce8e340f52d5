// Package auth implements the C6 Authorizer contract: user lookup,
// delayed-failure password validation, per-path permission checks with
// subtree overrides, and optional impersonation hooks for real-user
// authorizers.
package auth

import (
	"strings"
	"sync"
	"time"
)

// Perm is one permission letter from spec §3's set
// {e,l,r,a,d,f,m,w,M,T}.
type Perm byte

const (
	PermCWD    Perm = 'e'
	PermList   Perm = 'l'
	PermRetr   Perm = 'r'
	PermAppend Perm = 'a'
	PermDelete Perm = 'd'
	PermRename Perm = 'f'
	PermMkdir  Perm = 'm'
	PermStore  Perm = 'w'
	PermChmod  Perm = 'M'
	PermMfmt   Perm = 'T'
)

// AllPerms is every permission letter, used to validate a permission
// string on AddUser/OverridePerm.
const AllPerms = "elradfmwMT"

// ParsePermString validates and normalizes a permission string, per
// Authorizer.AddUser's "rejects ill-formed permission strings"
// contract.
func ParsePermString(s string) (string, bool) {
	seen := make(map[byte]bool)
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(AllPerms, rune(s[i])) {
			return "", false
		}
		seen[s[i]] = true
	}
	out := make([]byte, 0, len(seen))
	for i := 0; i < len(AllPerms); i++ {
		if seen[AllPerms[i]] {
			out = append(out, AllPerms[i])
		}
	}
	return string(out), true
}

// HasPerm reports whether perm string p grants letter.
func HasPerm(p string, letter Perm) bool {
	return strings.ContainsRune(p, rune(letter))
}

// PermOverride attaches a different permission string to a subtree.
type PermOverride struct {
	Dir       string
	Perm      string
	Recursive bool
}

// TransferStats tracks per-user transfer counters, a supplemented
// feature (SPEC_FULL §3) grounded in the teacher's UserProfile stats.
type TransferStats struct {
	mu              sync.RWMutex
	FilesUploaded   int64
	FilesDownloaded int64
	BytesUploaded   int64
	BytesDownloaded int64
}

func (s *TransferStats) RecordUpload(n int64) {
	s.mu.Lock()
	s.FilesUploaded++
	s.BytesUploaded += n
	s.mu.Unlock()
}

func (s *TransferStats) RecordDownload(n int64) {
	s.mu.Lock()
	s.FilesDownloaded++
	s.BytesDownloaded += n
	s.mu.Unlock()
}

func (s *TransferStats) Snapshot() TransferStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TransferStats{
		FilesUploaded:   s.FilesUploaded,
		FilesDownloaded: s.FilesDownloaded,
		BytesUploaded:   s.BytesUploaded,
		BytesDownloaded: s.BytesDownloaded,
	}
}

// User is one authorizer-owned account (spec §3's "User" data model).
type User struct {
	Username       string
	PasswordHash   string // bcrypt hash; empty means "any/no password" (anonymous)
	HomeDir        string // real path
	Perm           string
	Overrides      []PermOverride
	LoginMsg       string
	QuitMsg        string
	MaxConnections int   // 0 means unlimited
	BandwidthLimit int64 // bytes/sec, 0 means unlimited

	mu                sync.Mutex
	ActiveConnections int
	LoginAttempts     int32
	Locked            bool
	LastLogin         time.Time
	Stats             TransferStats
}

// EffectivePerm computes the permission string that applies to path
// (already a virtual, ftpnorm'd path), applying the most specific
// override — the longest matching directory prefix wins, per spec
// §4.6.
func (u *User) EffectivePerm(path string) string {
	best := u.Perm
	bestLen := -1
	for _, ov := range u.Overrides {
		if !pathUnder(path, ov.Dir, ov.Recursive) {
			continue
		}
		if len(ov.Dir) > bestLen {
			best = ov.Perm
			bestLen = len(ov.Dir)
		}
	}
	return best
}

func pathUnder(path, dir string, recursive bool) bool {
	if path == dir {
		return true
	}
	if !recursive {
		return false
	}
	if dir == "/" {
		return true
	}
	return strings.HasPrefix(path, dir+"/")
}
