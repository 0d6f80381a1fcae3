package dispatch

import (
	"context"
	"io"
	"sync"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
	"wearbridge/internal/session"
	"wearbridge/util"
)

// Raw relays inbound device bytes to Out and local input from In to
// the current session.  One reader goroutine owns In for the lifetime
// of the dispatcher; each handshake only swaps its destination.
type Raw struct {
	in     io.Reader
	out    io.Writer
	logger *util.Logger

	mu      sync.Mutex
	address string
	write   session.WriteFunc

	outMu     sync.Mutex
	startOnce sync.Once
	done      chan struct{}
}

// NewRaw creates a Raw dispatcher over in and out.
func NewRaw(in io.Reader, out io.Writer, logger *util.Logger) *Raw {
	return &Raw{in: in, out: out, logger: logger, done: make(chan struct{})}
}

// Handshake points local input at the new session.  No negotiation
// takes place.
func (r *Raw) Handshake(_ context.Context, write session.WriteFunc, req session.HandshakeRequest) (*device.Device, error) {
	r.mu.Lock()
	r.address, r.write = req.Address, write
	r.mu.Unlock()

	r.startOnce.Do(func() { go r.pumpInput() })
	r.logger.Verbose("raw relay attached to %s", req.Address)
	return &device.Device{Info: device.ConnectionInfo{Name: req.Name, Address: req.Address}}, nil
}

// OnBytes copies inbound data to Out.
func (r *Raw) OnBytes(_ string, data []byte) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	if _, err := r.out.Write(data); err != nil {
		r.logger.Warn("output: %v", err)
	}
}

// Forget detaches local input from address.
func (r *Raw) Forget(address string) {
	r.mu.Lock()
	if r.address == address {
		r.address, r.write = "", nil
	}
	r.mu.Unlock()
}

// Done is closed once In is exhausted.
func (r *Raw) Done() <-chan struct{} { return r.done }

func (r *Raw) pumpInput() {
	defer close(r.done)
	err := util.ForwardReader(context.Background(), r.in, func(chunk []byte) error {
		r.mu.Lock()
		write := r.write
		r.mu.Unlock()
		if write == nil {
			r.logger.Verbose("no session attached, dropped %d input bytes", len(chunk))
			return nil
		}
		if err := write(chunk); err != nil && !errors.IsClosed(err) {
			return err
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("input: %v", err)
	}
	r.logger.Verbose("local input finished")
}
