package session

import (
	"wearbridge/internal/device"
)

// Disconnect tears down the session registered under address and
// emits "device-disconnected".  It is idempotent: an unknown address
// still emits one notification, with an empty name.
func (m *Manager) Disconnect(address string) device.ConnectionInfo {
	m.mu.Lock()
	s, ok := m.sessions[address]
	if ok {
		delete(m.sessions, address)
	}
	m.mu.Unlock()

	if !ok {
		info := device.ConnectionInfo{Address: address}
		m.logger.Verbose("disconnect %s: no session", address)
		m.notifier.Emit(EventDisconnected, info)
		return info
	}
	return m.teardown(s, false)
}

// DisconnectAll tears down every registered session, emitting one
// notification each.
func (m *Manager) DisconnectAll() []device.ConnectionInfo {
	m.mu.Lock()
	drained := make([]*Session, 0, len(m.sessions))
	for addr, s := range m.sessions {
		drained = append(drained, s)
		delete(m.sessions, addr)
	}
	m.mu.Unlock()

	out := make([]device.ConnectionInfo, 0, len(drained))
	for _, s := range drained {
		out = append(out, m.teardown(s, false))
	}
	return out
}

// remoteDisconnect is the stream-end trigger.  It wins only if the
// registry still maps the address to this very session; otherwise a
// local disconnect, an eviction or a failed connect owns the teardown
// and this call does nothing.
func (m *Manager) remoteDisconnect(s *Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.Address]
	won := ok && cur == s
	if won {
		delete(m.sessions, s.Address)
	}
	m.mu.Unlock()

	if !won {
		s.log.Debug("remote disconnect lost the race")
		return
	}
	s.log.Info("remote disconnect")
	m.teardown(s, true)
}

// teardown runs once per session, after the caller has removed it
// from the registry.
func (m *Manager) teardown(s *Session, remote bool) device.ConnectionInfo {
	info := s.Info()
	if !s.state.CompareAndSwap(int32(Connected), int32(Disconnecting)) {
		return info
	}

	s.release()
	m.forget(s.Address)
	s.state.Store(int32(Disconnected))

	m.metrics.SessionClosed(remote)
	s.log.Info("disconnected")
	if s.announceDisconnect() {
		m.notifier.Emit(EventDisconnected, info)
	}
	return info
}
