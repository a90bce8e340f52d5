package vfs

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// OpenMode mirrors spec §4.5's open(path, mode) vocabulary.
type OpenMode int

const (
	OpenRead OpenMode = iota
	OpenWrite
	OpenAppend
	OpenReadWrite
)

// Open opens the file at the given real path (already validated via
// FTP2FS by the caller) according to mode.
func (f *FS) Open(real string, mode OpenMode) (*os.File, error) {
	switch mode {
	case OpenRead:
		return os.Open(real)
	case OpenWrite:
		return os.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	case OpenAppend:
		return os.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	case OpenReadWrite:
		return os.OpenFile(real, os.O_RDWR|os.O_CREATE, 0644)
	default:
		return nil, fmt.Errorf("vfs: unknown open mode %d", mode)
	}
}

// OpenAt opens real for writing positioned at offset (REST support).
// The file is created if missing and truncated only if offset is 0.
func (f *FS) OpenAt(real string, offset int64) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(real, flags, 0644)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
	}
	return file, nil
}

func (f *FS) Mkdir(real string) error  { return os.Mkdir(real, 0755) }
func (f *FS) Rmdir(real string) error  { return os.Remove(real) }
func (f *FS) Remove(real string) error { return os.Remove(real) }
func (f *FS) Chmod(real string, mode os.FileMode) error { return os.Chmod(real, mode) }

func (f *FS) Rename(realSrc, realDst string) error { return os.Rename(realSrc, realDst) }

func (f *FS) Stat(real string) (os.FileInfo, error)  { return os.Stat(real) }
func (f *FS) Lstat(real string) (os.FileInfo, error) { return os.Lstat(real) }
func (f *FS) Readlink(real string) (string, error)   { return os.Readlink(real) }

// Entry is one directory entry as returned by ListDir, pre-joined with
// enough information for both LIST and MLSD formatters without a second
// stat round-trip.
type Entry struct {
	Name string
	Info os.FileInfo
	// LinkInfo is the target's FileInfo when Info describes a symlink
	// and the target resolves inside the jail; nil otherwise (spec §3:
	// "Symlink targets outside root ... may still be listed (showing
	// the link) but not traversed").
	LinkInfo os.FileInfo
	// LinkTarget is the raw readlink() result, shown verbatim in LIST
	// output regardless of whether it resolves inside the jail.
	LinkTarget string
}

// ListDir returns a lazily-sorted snapshot of one directory's entries.
// It is not a true streaming iterator (os.ReadDir already reads the
// whole directory in one syscall) but satisfies the "finite lazy
// sequence" contract for its consumer: the caller drives it one Entry
// at a time via the returned function, and memory is bounded by a
// directory's entry count rather than by the LIST reply size.
func (f *FS) ListDir(real string) (func() (Entry, bool), error) {
	dirEntries, err := os.ReadDir(real)
	if err != nil {
		return nil, err
	}
	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })
	i := 0
	next := func() (Entry, bool) {
		for i < len(dirEntries) {
			de := dirEntries[i]
			i++
			info, err := de.Info()
			if err != nil {
				continue
			}
			e := Entry{Name: de.Name(), Info: info}
			if info.Mode()&os.ModeSymlink != 0 {
				linkPath := real + string(os.PathSeparator) + de.Name()
				if target, err := os.Readlink(linkPath); err == nil {
					e.LinkTarget = target
				}
				if f.ValidPath(linkPath) == nil {
					if li, err := os.Stat(linkPath); err == nil {
						e.LinkInfo = li
					}
				}
			}
			return e, true
		}
		return Entry{}, false
	}
	return next, nil
}
