package datatransfer

import (
	"context"
	"io"
	"os"
	"time"

	"ftpd/internal/ratelimit"
)

// Upload streams src (the data connection) into dst (already positioned
// for STOR/APPE/the REST offset), applying ASCII CR-stripping when
// !binary and bandwidth throttling. progress is called after every
// chunk with the cumulative byte count for stall-timer resets.
func Upload(ctx context.Context, dst *os.File, src io.Reader, binary bool, throttle *ratelimit.Limiter, progress func(int64)) (int64, error) {
	var writer io.Writer = dst
	var decoder *asciiDecoder
	if !binary {
		decoder = newASCIIDecoder(dst)
		writer = decoder
	}
	buf := make([]byte, DefaultBlockSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := writer.Write(buf[:n]); werr != nil {
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
				if decoder != nil {
					if ferr := decoder.Flush(); ferr != nil {
						return total, ferr
					}
				}
				return total, nil
			}
			return total, rerr
		}
	}
}

// UniqueFilename implements STOU's "path.N" search: the lowest
// non-negative integer N such that base.N does not already exist,
// giving up after maxAttempts (spec §4.7: bounded at 100, replying 450
// on exhaustion).
func UniqueFilename(exists func(candidate string) bool, base string, maxAttempts int) (string, bool) {
	for n := 0; n < maxAttempts; n++ {
		candidate := base + "." + itoa(n)
		if !exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
