package datatransfer

import (
	"context"
	"io"
	"net"
	"os"
	"time"

	"ftpd/internal/ratelimit"
)

// DefaultBlockSize is the default download/listing chunk size (spec
// §4.8).
const DefaultBlockSize = 65536

// Download streams src (already positioned at the REST offset, if any)
// to dst until EOF, applying ASCII CRLF conversion when !binary, the
// sendfile(2) fast path when eligible, and bandwidth throttling.
// progress, if non-nil, is called after every chunk with the
// cumulative byte count, for stall-timer resets. ctx cancellation
// aborts the transfer (ABOR / control-channel close).
func Download(ctx context.Context, dst io.Writer, src *os.File, binary bool, restOffset int64, throttle *ratelimit.Limiter, allowSendfile bool, progress func(int64)) (int64, error) {
	if binary && allowSendfile && sendfileSupported() {
		if dstFile, ok := dstAsFile(dst); ok {
			if n, ok, err := downloadViaSendfile(ctx, dstFile, src, restOffset, throttle, progress); ok {
				return n, err
			}
		}
	}
	return downloadViaCopy(ctx, dst, src, binary, throttle, progress)
}

// dstAsFile extracts the raw *os.File a net.Conn wraps, if any, so
// sendfile(2) can target it directly. TLS-wrapped connections never
// satisfy this (spec §4.8: sendfile requires a clear-text data
// channel).
func dstAsFile(dst io.Writer) (*os.File, bool) {
	type fileConn interface {
		File() (*os.File, error)
	}
	if tc, ok := dst.(*net.TCPConn); ok {
		f, err := tc.File()
		if err != nil {
			return nil, false
		}
		return f, true
	}
	if fc, ok := dst.(fileConn); ok {
		f, err := fc.File()
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// downloadViaSendfile returns ok=false when it could not even attempt
// sendfile (caller should fall back silently); ok=true means it either
// completed the transfer or the caller must treat err as final.
func downloadViaSendfile(ctx context.Context, dstFile, src *os.File, offset int64, throttle *ratelimit.Limiter, progress func(int64)) (int64, bool, error) {
	info, err := src.Stat()
	if err != nil {
		return 0, false, err
	}
	remaining := info.Size() - offset
	var total int64
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return total, true, ctx.Err()
		default:
		}
		chunk := remaining
		const step = 1 << 20
		if chunk > step {
			chunk = step
		}
		n, retriable, serr := trySendfile(dstFile, src, offset+total, chunk)
		total += n
		remaining -= n
		if progress != nil && n > 0 {
			progress(total)
		}
		if serr != nil {
			if retriable {
				continue
			}
			if total == 0 {
				// Nothing sent yet: fall back to the plain-copy path
				// (spec §4.8's "fall back to plain send only if zero
				// bytes had already been transmitted").
				return 0, false, nil
			}
			return total, true, serr
		}
		if throttle != nil {
			if d := throttle.Take(int(n)); d > 0 {
				time.Sleep(d)
			}
		}
		if n == 0 {
			break
		}
	}
	return total, true, nil
}

func downloadViaCopy(ctx context.Context, dst io.Writer, src io.Reader, binary bool, throttle *ratelimit.Limiter, progress func(int64)) (int64, error) {
	var reader io.Reader = src
	if !binary {
		reader = newASCIIEncoder(src)
	}
	buf := make([]byte, DefaultBlockSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
			if progress != nil {
				progress(total)
			}
			if throttle != nil {
				if d := throttle.Take(n); d > 0 {
					time.Sleep(d)
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}
