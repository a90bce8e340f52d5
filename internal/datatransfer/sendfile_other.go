//go:build !linux

package datatransfer

import "os"

// trySendfile has no portable equivalent outside Linux in this module
// (darwin/BSD sendfile has a different, socket-address-taking signature
// not worth binding for a secondary fast path); callers fall back to the
// plain io.Copy path, which is always correct, just not zero-copy.
func trySendfile(dst *os.File, src *os.File, offset int64, count int64) (n int64, retriable bool, err error) {
	return 0, false, errSendfileUnsupported
}

func sendfileSupported() bool { return false }
