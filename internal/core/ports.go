package core

import (
	"context"

	"wearbridge/internal/transport"
)

// PortsMode lists the serial ports visible to the host.
type PortsMode struct {
	List func() ([]transport.PortInfo, error)
	Out  Printer
}

// Run enumerates ports and prints them as one record.
func (m *PortsMode) Run(context.Context) error {
	ports, err := m.List()
	if err != nil {
		return err
	}
	if ports == nil {
		ports = []transport.PortInfo{}
	}
	return m.Out.Print("ports", ports)
}
