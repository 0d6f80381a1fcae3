package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	bridgeerr "wearbridge/internal/errors"
)

// pipeStream is an in-memory stream: the test feeds inbound bytes via
// the remote writer and inspects what the port wrote.
type pipeStream struct {
	in     *io.PipeReader
	remote *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	drained int
	closed  int
}

func newPipeStream() *pipeStream {
	r, w := io.Pipe()
	return &pipeStream{in: r, remote: w}
}

func (s *pipeStream) Read(p []byte) (int, error) { return s.in.Read(p) }

func (s *pipeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return 0, io.ErrClosedPipe
	}
	return s.written.Write(p)
}

func (s *pipeStream) Drain() error {
	s.mu.Lock()
	s.drained++
	s.mu.Unlock()
	return nil
}

func (s *pipeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return s.in.Close()
}

func (s *pipeStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func TestPort_ReaderExclusive(t *testing.T) {
	p := NewPort("fake", newPipeStream())

	r1, err := p.Reader()
	if err != nil {
		t.Fatalf("first Reader: %v", err)
	}
	if _, err := p.Reader(); err == nil {
		t.Fatal("second Reader should fail while the first is held")
	}
	r1.Release()
	r1.Release() // idempotent
	if _, err := p.Reader(); err != nil {
		t.Fatalf("Reader after release: %v", err)
	}
}

func TestPort_ReleasedReaderFails(t *testing.T) {
	p := NewPort("fake", newPipeStream())
	r, _ := p.Reader()
	r.Release()
	if _, err := r.Read(make([]byte, 8)); !errors.Is(err, bridgeerr.ErrHandleReleased) {
		t.Errorf("err = %v, want ErrHandleReleased", err)
	}
}

func TestPort_WriterSingleton(t *testing.T) {
	s := newPipeStream()
	p := NewPort("fake", s)

	w1, err := p.Writer()
	if err != nil {
		t.Fatal(err)
	}
	w2, _ := p.Writer()
	if w1 != w2 {
		t.Error("Writer should return the same handle")
	}
	if _, err := w1.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := s.Written(); got != "abc" {
		t.Errorf("written = %q, want abc", got)
	}

	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.drained != 1 {
		t.Errorf("drained %d times, want 1", s.drained)
	}
	if _, err := w1.Write([]byte("x")); !errors.Is(err, bridgeerr.ErrHandleReleased) {
		t.Errorf("write after close err = %v, want ErrHandleReleased", err)
	}
}

func TestPort_CloseUnblocksRead(t *testing.T) {
	s := newPipeStream()
	p := NewPort("fake", s)
	r, _ := p.Reader()

	done := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, bridgeerr.ErrHandleReleased) {
			t.Errorf("err = %v, want ErrHandleReleased", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock the pending read")
	}

	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.closed != 1 {
		t.Errorf("stream closed %d times, want 1", s.closed)
	}
	if _, err := p.Reader(); !errors.Is(err, bridgeerr.ErrHandleReleased) {
		t.Errorf("Reader after close err = %v", err)
	}
	if _, err := p.Writer(); !errors.Is(err, bridgeerr.ErrHandleReleased) {
		t.Errorf("Writer after close err = %v", err)
	}
}

func TestReader_EOF(t *testing.T) {
	s := newPipeStream()
	p := NewPort("fake", s)
	r, _ := p.Reader()

	go func() {
		s.remote.Write([]byte("hi")) //nolint:errcheck
		s.remote.Close()
	}()

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil || string(buf[:n]) != "hi" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if _, err := r.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

// zeroReader returns (0, nil) forever.
type zeroReader struct{ pipeStream }

func (*zeroReader) Read([]byte) (int, error) { return 0, nil }

func TestReader_ZeroLengthIsEOF(t *testing.T) {
	p := NewPort("fake", &zeroReader{})
	r, _ := p.Reader()
	if _, err := r.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

// shortWriter accepts one byte per call.
type shortWriter struct {
	pipeStream
	calls int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.calls++
	w.written.WriteByte(p[0])
	return 1, nil
}

func TestWriter_LoopsOverShortWrites(t *testing.T) {
	s := &shortWriter{}
	p := NewPort("fake", s)
	w, _ := p.Writer()
	n, err := w.Write([]byte("abcd"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if s.calls != 4 || s.written.String() != "abcd" {
		t.Errorf("calls=%d written=%q", s.calls, s.written.String())
	}
}
