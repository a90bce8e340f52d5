//go:build linux

package datatransfer

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// trySendfile implements the sendfile(2) fast path (spec §4.8): used
// for RETR when TYPE is binary, the data channel is clear text, and the
// offset (if any) is honored by the kernel call directly. It returns
// the number of bytes transferred, whether the error (if any) is
// retriable (EAGAIN/EWOULDBLOCK/EINTR/EBUSY — caller should re-arm and
// retry rather than fail), and the error itself.
func trySendfile(dst *os.File, src *os.File, offset int64, count int64) (n int64, retriable bool, err error) {
	dstFD := int(dst.Fd())
	srcFD := int(src.Fd())
	off := offset
	remaining := count
	var total int64
	for remaining > 0 {
		chunk := remaining
		const maxChunk = 1 << 30
		if chunk > maxChunk {
			chunk = maxChunk
		}
		written, serr := unix.Sendfile(dstFD, srcFD, &off, int(chunk))
		if written > 0 {
			total += int64(written)
			remaining -= int64(written)
		}
		if serr != nil {
			switch {
			case errors.Is(serr, unix.EAGAIN), errors.Is(serr, unix.EINTR), errors.Is(serr, unix.EBUSY):
				return total, true, serr
			default:
				return total, false, serr
			}
		}
		if written == 0 {
			break
		}
	}
	return total, false, nil
}

func sendfileSupported() bool { return true }
