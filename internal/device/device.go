// Package device holds the value types shared between the session layer
// and the protocol dispatcher: connection snapshots, link types, the
// typed subsystem set a device exposes, and payload classification.
package device

import (
	"fmt"
	"strings"
)

// DefaultName is used when neither the caller nor the transport
// supplies a display name.
const DefaultName = "Unknown device"

// ConnectionInfo is a snapshot of a session's identity.  It is a plain
// value; holding one does not keep the session alive.
type ConnectionInfo struct {
	Name    string `json:"name"`
	Address string `json:"addr"`
}

func (c ConnectionInfo) String() string {
	if c.Name == "" {
		return c.Address
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Address)
}

// ConnectType selects the link the dispatcher negotiates over.
type ConnectType int

const (
	// ConnectSPP is the default serial-port-profile link.
	ConnectSPP ConnectType = iota
	// ConnectBLE is the secondary radio link.
	ConnectBLE
)

// ParseConnectType maps a host string onto a ConnectType.  Matching is
// case-insensitive; anything other than "BLE" selects the default link.
func ParseConnectType(s string) ConnectType {
	if strings.EqualFold(strings.TrimSpace(s), "BLE") {
		return ConnectBLE
	}
	return ConnectSPP
}

func (c ConnectType) String() string {
	if c == ConnectBLE {
		return "BLE"
	}
	return "SPP"
}

// Device is what a successful handshake yields: the negotiated identity
// plus the subsystems the device exposes.
type Device struct {
	Info    ConnectionInfo
	Systems Subsystems
}

// Progress is one incremental report from a mass transfer.
type Progress struct {
	Stage string `json:"stage,omitempty"`
	Sent  int64  `json:"sent"`
	Total int64  `json:"total"`
}

// Percent returns completion in the range 0-100.  A transfer with an
// unknown total reports 0.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Sent) * 100 / float64(p.Total)
	if pct > 100 {
		return 100
	}
	return pct
}
