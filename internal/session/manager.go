package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
	"wearbridge/internal/metrics"
	"wearbridge/internal/transport"
	"wearbridge/util"
)

// Nudger performs the optional secondary-radio pairing nudge.
type Nudger interface {
	EnsurePairing(ctx context.Context) (transport.Peer, bool)
}

// ConnectRequest holds the caller's connect parameters.  Name and
// Address are optional.
type ConnectRequest struct {
	Name            string
	Address         string
	AuthKey         string
	ProtocolVersion uint32
	ConnectType     device.ConnectType
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaud sets the baud rate passed to the probe.
func WithBaud(baud int) Option { return func(m *Manager) { m.baud = baud } }

// WithNudger enables the pairing nudge before each probe.
func WithNudger(n Nudger) Option { return func(m *Manager) { m.nudger = n } }

// WithNotifier shares an existing Notifier.
func WithNotifier(n *Notifier) Option { return func(m *Manager) { m.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l *util.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithMetrics records session statistics into c.
func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

// Manager is the registry of live sessions.  mu is the single
// serialised access point for registry mutations and subsystem calls.
type Manager struct {
	probe      transport.Probe
	dispatcher Dispatcher
	nudger     Nudger
	notifier   *Notifier
	logger     *util.Logger
	metrics    *metrics.Collector
	baud       int

	connectMu sync.Mutex // one connect flow at a time

	mu       sync.Mutex
	sessions map[string]*Session

	// registered, if set, runs after a session enters the registry and
	// before "device-connected" is emitted.
	registered func(*Session)
}

// NewManager creates a Manager that opens transports with probe and
// speaks to devices through dispatcher.
func NewManager(probe transport.Probe, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		probe:      probe,
		dispatcher: dispatcher,
		baud:       transport.DefaultBaud,
		sessions:   make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = util.NewLogger(int(util.LogNormal))
	}
	if m.notifier == nil {
		m.notifier = NewNotifier(m.logger)
	}
	return m
}

// Notifier returns the manager's event notifier.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// Connect tears down every registered session, opens a transport,
// starts the pump and runs the dispatcher handshake.  On success the
// session is registered and "device-connected" is emitted.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (device.ConnectionInfo, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.DisconnectAll()

	if m.nudger != nil {
		if peer, ok := m.nudger.EnsurePairing(ctx); ok {
			m.logger.Verbose("nudged companion %q (%s)", peer.Name, peer.ID)
		}
	}

	probed, err := m.probe.Open(ctx, m.baud)
	if err != nil {
		m.metrics.RecordError(err.Error())
		return device.ConnectionInfo{}, err
	}

	name := resolveName(req.Name, probed.Label)
	address := resolveAddress(req.Address, probed.Address)
	s := newSession(ctx, name, address, probed.Port, m.logger)
	s.log.Info("transport %s open", probed.Port.Name())

	if err := m.startPump(s); err != nil {
		s.release()
		return device.ConnectionInfo{}, errors.OpenFailed(probed.Port.Name(), err)
	}

	dev, err := m.dispatcher.Handshake(ctx, s.enqueue, HandshakeRequest{
		Name:            name,
		Address:         address,
		AuthKey:         req.AuthKey,
		ProtocolVersion: req.ProtocolVersion,
		ConnectType:     req.ConnectType,
	})
	if err != nil {
		return device.ConnectionInfo{}, m.abandon(s, err)
	}
	if dev != nil {
		if dev.Info.Name != "" {
			s.Name = dev.Info.Name
		}
		s.Systems = dev.Systems
	}

	m.mu.Lock()
	if s.ended.Load() {
		m.mu.Unlock()
		return device.ConnectionInfo{}, m.abandon(s, errors.ErrStreamClosed)
	}
	evicted := m.sessions[address]
	m.sessions[address] = s
	m.mu.Unlock()
	if m.registered != nil {
		m.registered(s)
	}

	if evicted != nil {
		evicted.log.Warn("replaced by session %s", s.ID)
		m.teardown(evicted, false)
	}

	m.metrics.SessionOpened()
	info := s.Info()
	s.log.Info("connected as %q", info.Name)
	m.notifier.Emit(EventConnected, info)
	if s.markAnnounced() {
		m.notifier.Emit(EventDisconnected, info)
	}
	return info, nil
}

// abandon releases a session that never made it into the registry.
func (m *Manager) abandon(s *Session, cause error) error {
	s.log.Error("handshake failed: %v", cause)
	s.release()
	m.forget(s.Address)
	m.metrics.RecordError(cause.Error())
	return &errors.HandshakeError{Cause: cause}
}

// List returns a snapshot of registered sessions in no particular order.
func (m *Manager) List() []device.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]device.ConnectionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Lookup returns the session registered under address.
func (m *Manager) Lookup(address string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[address]
	return s, ok
}

// WithDevice runs fn against the subsystems of the device registered
// under address while holding the registry lock, so at most one call
// touches a device's subsystems at a time.  fn must not call back into
// the Manager.
func (m *Manager) WithDevice(address string, fn func(device.Subsystems) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[address]
	if !ok {
		return fmt.Errorf("%s: %w", address, errors.ErrDeviceNotFound)
	}
	return fn(s.Systems)
}

func (m *Manager) forget(address string) {
	if f, ok := m.dispatcher.(Forgetter); ok {
		f.Forget(address)
	}
}

func resolveName(explicit, label string) string {
	if n := strings.TrimSpace(explicit); n != "" {
		return n
	}
	if label != "" {
		return label
	}
	return device.DefaultName
}

func resolveAddress(hint, probed string) string {
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	return probed
}
