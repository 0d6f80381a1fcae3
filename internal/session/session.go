// Package session manages the live binding between a device address
// and an open transport.  A Manager owns the registry of sessions and
// drives connect, disconnect and listing; each Session hosts its own
// inbound and outbound pump goroutines and is torn down exactly once.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
	"wearbridge/internal/queue"
	"wearbridge/internal/transport"
	"wearbridge/util"
)

// State is a session's position in the disconnect state machine.
type State int32

const (
	Connected State = iota
	Disconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one device link.  Its port, handles and goroutines are
// owned by the session alone and released by release.
type Session struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
	Systems   device.Subsystems

	port     *transport.Port
	reader   *transport.Reader
	outbound *queue.Unbounded[[]byte]
	exec     *executor
	log      *util.Logger

	state       atomic.Int32
	ended       atomic.Bool // inbound reached end of stream
	releaseOnce sync.Once

	// announceMu orders "device-connected" before "device-disconnected".
	announceMu sync.Mutex
	announced  bool // "device-connected" has gone out
	pending    bool // teardown finished first; Connect emits the disconnect
}

func newSession(ctx context.Context, name, address string, port *transport.Port, logger *util.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Name:      name,
		Address:   address,
		CreatedAt: time.Now(),
		port:      port,
		outbound:  queue.New[[]byte](),
		exec:      newExecutor(ctx),
		log:       logger.With("addr", address).With("session", id[:8]),
	}
}

// Info returns the session's identity snapshot.
func (s *Session) Info() device.ConnectionInfo {
	return device.ConnectionInfo{Name: s.Name, Address: s.Address}
}

// State returns the current disconnect state.
func (s *Session) State() State { return State(s.state.Load()) }

// enqueue is the write callback handed to the dispatcher.  It never
// blocks; data is copied so the caller may reuse its buffer.
func (s *Session) enqueue(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if !s.outbound.Push(buf) {
		return errors.ErrStreamClosed
	}
	return nil
}

// announceDisconnect reports whether the caller may emit
// "device-disconnected" now.  If "device-connected" has not gone out
// yet the emission is left to markAnnounced.
func (s *Session) announceDisconnect() bool {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	if !s.announced {
		s.pending = true
	}
	return s.announced
}

// markAnnounced records that "device-connected" has gone out and
// reports whether a teardown is waiting to be announced.
func (s *Session) markAnnounced() bool {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	s.announced = true
	return s.pending
}

// release frees the session's resources in order: writer, reader,
// port, then the execution context.  Each step is best-effort.
// Safe to call more than once.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if w, err := s.port.Writer(); err == nil {
			if err := w.Close(); err != nil {
				s.log.Verbose("writer close: %v", err)
			}
		}
		if s.reader != nil {
			s.reader.Release()
		}
		if err := s.port.Close(); err != nil {
			s.log.Verbose("port close: %v", err)
		}
		s.outbound.Close()
		s.exec.stop()
	})
}

// ── Execution context ────────────────────────────────────────────────

// executor hosts the goroutines spawned for one session.
type executor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newExecutor(parent context.Context) *executor {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &executor{ctx: ctx, cancel: cancel}
}

func (e *executor) spawn(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// stop cancels the context and waits for every spawned goroutine.
// It must not be called from one of those goroutines.
func (e *executor) stop() {
	e.cancel()
	e.wg.Wait()
}
