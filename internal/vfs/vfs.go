// Package vfs maps virtual FTP paths onto real filesystem paths under a
// per-user root, enforcing the jail invariant (spec §3, §4.5, §8.1):
// realpath(ftp2fs(v)) always has realpath(root) as a prefix.
package vfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned by ValidPath and FTP2FS when a path would
// resolve outside the user's virtual root.
var ErrEscapesRoot = fmt.Errorf("vfs: path escapes user root")

// FS maps one user's virtual root onto a real directory.
type FS struct {
	root string // real, absolute, symlink-resolved path to the user's root
}

// New creates an FS rooted at realRoot, which must already be an
// absolute, existing directory. realRoot is resolved through
// filepath.EvalSymlinks once at construction so later comparisons are
// cheap string-prefix checks.
func New(realRoot string) (*FS, error) {
	abs, err := filepath.Abs(realRoot)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &FS{root: resolved}, nil
}

// Root returns the real root directory.
func (f *FS) Root() string { return f.root }

// FTPNorm resolves a virtual path argument against cwd, collapsing "."
// and "..", collapsing repeated slashes, and clamping at the virtual
// root "/" (so "/.." stays "/"). It never touches the filesystem.
func FTPNorm(cwd, arg string) string {
	var target string
	if strings.HasPrefix(arg, "/") {
		target = arg
	} else {
		target = path.Join(cwd, arg)
	}
	cleaned := path.Clean("/" + target)
	return cleaned
}

// FTP2FS translates a virtual path (already cwd-resolved) to a real
// filesystem path, and asserts ValidPath before returning — callers must
// not issue any syscall against the returned path without this check
// having passed, which FTP2FS guarantees by construction.
func (f *FS) FTP2FS(virtual string) (string, error) {
	rel := strings.TrimPrefix(virtual, "/")
	real := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := f.ValidPath(real); err != nil {
		return "", err
	}
	return real, nil
}

// ValidPath reports whether real resolves under f.root. Symlinks are
// resolved as far as they exist; a dangling leaf (e.g. the destination
// of a STOR that doesn't exist yet) is validated against its resolved
// parent directory instead.
func (f *FS) ValidPath(real string) error {
	resolved, err := resolveAsFarAsPossible(real)
	if err != nil {
		return err
	}
	if resolved == f.root {
		return nil
	}
	if strings.HasPrefix(resolved, f.root+string(filepath.Separator)) {
		return nil
	}
	return ErrEscapesRoot
}

// resolveAsFarAsPossible resolves symlinks in real, walking up to the
// nearest existing ancestor when the leaf itself doesn't exist yet (the
// common case for a new file created by STOR, MKD, or RNTO).
func resolveAsFarAsPossible(real string) (string, error) {
	resolved, err := filepath.EvalSymlinks(real)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	parent := filepath.Dir(real)
	if parent == real {
		return "", err
	}
	resolvedParent, perr := resolveAsFarAsPossible(parent)
	if perr != nil {
		return "", perr
	}
	return filepath.Join(resolvedParent, filepath.Base(real)), nil
}

// FS2FTP converts a real path back to its virtual representation,
// returning "" if real escapes the root (spec §4.5).
func (f *FS) FS2FTP(real string) string {
	resolved, err := filepath.Abs(real)
	if err != nil {
		return ""
	}
	if resolved == f.root {
		return "/"
	}
	if !strings.HasPrefix(resolved, f.root+string(filepath.Separator)) {
		return ""
	}
	rel := strings.TrimPrefix(resolved, f.root)
	return filepath.ToSlash("/" + strings.TrimPrefix(rel, string(filepath.Separator)))
}
