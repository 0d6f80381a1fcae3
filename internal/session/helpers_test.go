package session

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"wearbridge/internal/device"
	"wearbridge/internal/metrics"
	"wearbridge/internal/transport"
	"wearbridge/util"
)

// link is one fake transport: the manager owns host, the test drives
// the device end.
type link struct {
	probed *transport.Probed
	device net.Conn
}

func newLink(t *testing.T, address, label string) *link {
	t.Helper()
	host, dev := net.Pipe()
	t.Cleanup(func() { dev.Close() })
	return &link{
		probed: &transport.Probed{Port: transport.NewPort("pipe", host), Address: address, Label: label},
		device: dev,
	}
}

type fakeProbe struct {
	mu    sync.Mutex
	links []*link
	err   error
	calls int
	order *[]string
}

func (p *fakeProbe) Open(context.Context, int) (*transport.Probed, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.order != nil {
		*p.order = append(*p.order, "probe")
	}
	if p.err != nil {
		return nil, p.err
	}
	l := p.links[0]
	p.links = p.links[1:]
	return l.probed, nil
}

type fakeNudger struct{ order *[]string }

func (n *fakeNudger) EnsurePairing(context.Context) (transport.Peer, bool) {
	*n.order = append(*n.order, "nudge")
	return transport.Peer{Name: "Watch", ID: "AA:BB"}, true
}

type fakeDispatcher struct {
	mu           sync.Mutex
	handshakeErr error
	name         string
	systems      device.Subsystems
	hello        []byte
	duringShake  func()
	requests     []HandshakeRequest
	writes       map[string]WriteFunc
	received     map[string][]byte
	chunks       chan []byte
	forgotten    []string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		writes:   make(map[string]WriteFunc),
		received: make(map[string][]byte),
		chunks:   make(chan []byte, 256),
	}
}

func (d *fakeDispatcher) Handshake(_ context.Context, write WriteFunc, req HandshakeRequest) (*device.Device, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.writes[req.Address] = write
	hook := d.duringShake
	d.mu.Unlock()

	if d.hello != nil {
		if err := write(d.hello); err != nil {
			return nil, err
		}
	}
	if hook != nil {
		hook()
	}
	if d.handshakeErr != nil {
		return nil, d.handshakeErr
	}
	return &device.Device{
		Info:    device.ConnectionInfo{Name: d.name, Address: req.Address},
		Systems: d.systems,
	}, nil
}

func (d *fakeDispatcher) OnBytes(address string, data []byte) {
	d.mu.Lock()
	d.received[address] = append(d.received[address], data...)
	d.mu.Unlock()
	d.chunks <- data
}

func (d *fakeDispatcher) Forget(address string) {
	d.mu.Lock()
	d.forgotten = append(d.forgotten, address)
	d.mu.Unlock()
}

func (d *fakeDispatcher) write(address string) WriteFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes[address]
}

func (d *fakeDispatcher) forgetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.forgotten)
}

// recorder captures sink events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(event string, info device.ConnectionInfo) {
	r.mu.Lock()
	r.events = append(r.events, Event{Name: event, Info: info})
	r.mu.Unlock()
}

func (r *recorder) named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(io.Discard)
	return l
}

type harness struct {
	mgr     *Manager
	probe   *fakeProbe
	disp    *fakeDispatcher
	events  *recorder
	metrics *metrics.Collector
}

func newHarness(t *testing.T, links ...*link) *harness {
	t.Helper()
	h := &harness{
		probe:   &fakeProbe{links: links},
		disp:    newFakeDispatcher(),
		events:  &recorder{},
		metrics: metrics.New(),
	}
	h.disp.name = ""
	h.mgr = NewManager(h.probe, h.disp, WithLogger(quietLogger()), WithMetrics(h.metrics))
	h.mgr.Notifier().SetSink(h.events.sink)
	t.Cleanup(func() { h.mgr.DisconnectAll() })
	return h
}

// readN reads exactly n bytes from the device end of a link.
func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	c.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("device read: %v", err)
	}
	return buf
}
