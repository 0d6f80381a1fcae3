// Package transport opens the physical byte stream a device session
// runs over.  A Probe selects and opens a transport and derives a
// stable device address; the resulting Port hands out one exclusive
// reader handle and one lazily created writer handle.
package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"wearbridge/internal/errors"
)

// Probe opens a transport.  Implementations fail with a TransportError
// classified as ErrTransportUnavailable when nothing can be selected,
// or ErrOpenFailed when the chosen transport rejects its parameters.
type Probe interface {
	Open(ctx context.Context, baud int) (*Probed, error)
}

// Probed is the result of a successful Probe.Open.
type Probed struct {
	Port    *Port
	Address string
	Label   string // empty when the transport has no hardware identity
}

// Drainer is implemented by streams that can block until buffered
// output has been transmitted.
type Drainer interface {
	Drain() error
}

// Port owns a raw stream.  Exactly one reader handle may be
// outstanding at a time; the writer handle is created on first use and
// shared.  All methods are safe for concurrent use.
type Port struct {
	name   string
	stream io.ReadWriteCloser

	closed atomic.Bool

	mu     sync.Mutex // guards reader and writer
	reader *Reader
	writer *Writer
}

// NewPort wraps stream.  name is used in errors and logs.
func NewPort(name string, stream io.ReadWriteCloser) *Port {
	return &Port{name: name, stream: stream}
}

// Name returns the port's display name.
func (p *Port) Name() string { return p.name }

// Reader acquires the exclusive reader handle.  It must be released
// before another can be acquired.
func (p *Port) Reader() (*Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return nil, errors.ErrHandleReleased
	}
	if p.reader != nil {
		return nil, &errors.TransportError{Op: "read", Port: p.name, Err: errors.New("reader already acquired")}
	}
	p.reader = &Reader{port: p}
	return p.reader, nil
}

// Writer returns the port's writer handle, creating it on first call.
func (p *Port) Writer() (*Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return nil, errors.ErrHandleReleased
	}
	if p.writer == nil || p.writer.isClosed() {
		p.writer = &Writer{port: p}
	}
	return p.writer, nil
}

// Close closes the underlying stream, unblocking any pending read.
// Outstanding handles fail with ErrHandleReleased afterwards.
// Safe to call more than once.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.stream.Close(); err != nil && !errors.IsClosed(err) {
		return &errors.TransportError{Op: "close", Port: p.name, Err: err}
	}
	return nil
}

// Closed reports whether Close has been called.
func (p *Port) Closed() bool { return p.closed.Load() }

func (p *Port) releaseReader(r *Reader) {
	p.mu.Lock()
	if p.reader == r {
		p.reader = nil
	}
	p.mu.Unlock()
}

// ── Handles ──────────────────────────────────────────────────────────

// Reader is the exclusive read handle of a Port.
type Reader struct {
	port     *Port
	mu       sync.Mutex
	released bool
}

// Read reads from the port.  A zero-length read with no error is
// reported as io.EOF so callers see a single end-of-stream signal.
func (r *Reader) Read(b []byte) (int, error) {
	if r.isReleased() || r.port.Closed() {
		return 0, errors.ErrHandleReleased
	}
	n, err := r.port.stream.Read(b)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, io.EOF
	}
	if r.isReleased() || r.port.Closed() {
		return 0, errors.ErrHandleReleased
	}
	if !errors.IsClosed(err) {
		err = &errors.TransportError{Op: "read", Port: r.port.name, Err: err}
	}
	return 0, err
}

// Release gives the handle back to the port.  A read that is already
// blocked keeps waiting until the port is closed.
func (r *Reader) Release() {
	r.mu.Lock()
	already := r.released
	r.released = true
	r.mu.Unlock()
	if !already {
		r.port.releaseReader(r)
	}
}

func (r *Reader) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Writer is the write handle of a Port.
type Writer struct {
	port   *Port
	mu     sync.Mutex // serialises writes and drain
	closed atomic.Bool
}

// Write writes all of b, looping over short writes.
func (w *Writer) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() || w.port.Closed() {
		return 0, errors.ErrHandleReleased
	}
	total := 0
	for total < len(b) {
		n, err := w.port.stream.Write(b[total:])
		total += n
		if err != nil {
			return total, &errors.TransportError{Op: "write", Port: w.port.name, Err: err}
		}
		if n == 0 {
			return total, &errors.TransportError{Op: "write", Port: w.port.name, Err: io.ErrShortWrite}
		}
	}
	return total, nil
}

// Close flushes pending output if the stream supports it and retires
// the handle.  Safe to call more than once.
func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	// A write still blocked in the stream holds the lock; closing the
	// port ends it, so skip the drain rather than wait.
	if !w.mu.TryLock() {
		return nil
	}
	defer w.mu.Unlock()

	if w.port.Closed() {
		return nil
	}
	if d, ok := w.port.stream.(Drainer); ok {
		if err := d.Drain(); err != nil {
			return &errors.TransportError{Op: "drain", Port: w.port.name, Err: err}
		}
	}
	return nil
}

func (w *Writer) isClosed() bool { return w.closed.Load() }
