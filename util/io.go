package util

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"strings"
)

// DefaultBufSize is the read size used for transport and stdin chunks.
// Serial links deliver at most a few hundred bytes per read.
const DefaultBufSize = 4 * 1024

// ForwardReader reads r in chunks and hands each chunk to write until
// r reaches EOF, write fails, or ctx is cancelled.  Each chunk is a
// fresh slice owned by the callee.  A clean EOF returns nil.
func ForwardReader(ctx context.Context, r io.Reader, write func([]byte) error) error {
	buf := GetBuf()
	defer PutBuf(buf)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(*buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, (*buf)[:n])
			if werr := write(chunk); werr != nil {
				return werr
			}
		}
		if err != nil {
			if isHarmless(err) {
				return nil
			}
			return err
		}
	}
}

// ToHex renders data as space-separated upper-case hex octets, the
// format used in packet trace logs.
func ToHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	s := strings.ToUpper(hex.EncodeToString(data))
	var b strings.Builder
	b.Grow(len(s) + len(data))
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+2])
	}
	return b.String()
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
