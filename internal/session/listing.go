package session

import (
	"strings"
	"time"

	"ftpd/internal/auth"
	"ftpd/internal/vfs"
)

// renderListing walks real (a directory) or, if it names a plain file,
// treats it as a single-entry listing (LIST's traditional single-file
// behavior), producing one line per entry via format.
func (s *Session) renderListing(virtual, real string, format func(vfs.Entry) string) (string, error) {
	info, err := s.fs.Stat(real)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return format(vfs.Entry{Name: lastSegment(virtual), Info: info}) + "\r\n", nil
	}
	next, err := s.fs.ListDir(real)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		e, ok := next()
		if !ok {
			break
		}
		b.WriteString(format(e))
		b.WriteString("\r\n")
	}
	return b.String(), nil
}

func lastSegment(virtual string) string {
	i := strings.LastIndexByte(virtual, '/')
	if i < 0 {
		return virtual
	}
	return virtual[i+1:]
}

func (s *Session) runListing(arg string, perm auth.Perm, format func(vfs.Entry) string) (string, bool) {
	virtual, real, err := s.resolvePath(arg)
	if err != nil {
		return "550 " + err.Error(), false
	}
	if !s.requirePerm(perm, virtual) {
		return "550 Permission denied", false
	}
	h, ok := s.requireDataHandler()
	if !ok {
		return "425 Use PORT or PASV first", false
	}
	body, err := s.renderListing(virtual, real, format)
	if err != nil {
		return "550 " + err.Error(), false
	}
	if err := s.conn.WriteLine("150 Here comes the directory listing"); err != nil {
		return "", true
	}
	ctx, done := s.beginTransfer()
	defer done()
	_, err = h.RunList(ctx, s.acceptTimeout(), strings.NewReader(body))
	h.Close()
	if err != nil {
		return "426 Transfer failed", false
	}
	return "226 Directory send OK", false
}

func (s *Session) cmdLIST(arg string) (string, bool) {
	useGMT := s.cfg.UseGMTTimes
	now := time.Now()
	return s.runListing(arg, auth.PermList, func(e vfs.Entry) string {
		return vfs.FormatUnixList(e, now, useGMT)
	})
}

func (s *Session) cmdNLST(arg string) (string, bool) {
	return s.runListing(arg, auth.PermList, func(e vfs.Entry) string {
		return e.Name
	})
}

func (s *Session) cmdMLSD(arg string) (string, bool) {
	useGMT := s.cfg.UseGMTTimes
	return s.runListing(arg, auth.PermList, func(e vfs.Entry) string {
		kind := "file"
		if e.Info.IsDir() {
			kind = "dir"
		}
		return vfs.FormatMLSEntry(kind, e, 0, 0, "el", vfs.MLSFacts, useGMT)
	})
}

func (s *Session) cmdMLST(arg string) (string, bool) {
	virtual, real, err := s.resolvePath(arg)
	if err != nil {
		return "550 " + err.Error(), false
	}
	info, err := s.fs.Stat(real)
	if err != nil {
		return "550 " + err.Error(), false
	}
	kind := "file"
	if info.IsDir() {
		kind = "dir"
	}
	line := vfs.FormatMLSEntry(kind, vfs.Entry{Name: lastSegment(virtual), Info: info}, 0, 0, "el", vfs.MLSFacts, s.cfg.UseGMTTimes)
	return "250-Listing " + virtual + "\r\n " + line + "\r\n250 End", false
}
