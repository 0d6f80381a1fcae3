package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"wearbridge/internal/errors"
	"wearbridge/util"
)

// DefaultBaud is used when the caller passes a non-positive baud rate.
const DefaultBaud = 115200

// PortInfo describes one serial port visible to the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"usb"`
	VendorID     string `json:"vid,omitempty"`
	ProductID    string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (p PortInfo) identity() Identity {
	return Identity{SerialNumber: p.SerialNumber, VendorID: p.VendorID, ProductID: p.ProductID}
}

// ListPorts enumerates the host's serial ports with USB details.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Unavailable("list", "", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VendorID:     d.VID,
			ProductID:    d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return out, nil
}

// SerialProbe opens a local serial port.  With PortName empty it picks
// the first USB port, or the only port when exactly one exists.
type SerialProbe struct {
	PortName string

	logger *util.Logger
	list   func() ([]PortInfo, error)
	open   func(name string, baud int) (io.ReadWriteCloser, error)
	now    func() time.Time
}

// NewSerialProbe returns a probe for portName ("" = auto-select).
func NewSerialProbe(portName string, logger *util.Logger) *SerialProbe {
	return &SerialProbe{
		PortName: portName,
		logger:   logger,
		list:     ListPorts,
		open:     openSerial,
		now:      time.Now,
	}
}

// Open selects, opens and identifies the port.
func (p *SerialProbe) Open(ctx context.Context, baud int) (*Probed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if baud <= 0 {
		baud = DefaultBaud
	}

	info, err := p.selectPort()
	if err != nil {
		return nil, err
	}

	p.logger.Verbose("opening %s at %d baud", info.Name, baud)
	stream, err := p.open(info.Name, baud)
	if err != nil {
		return nil, classifyOpenError(info.Name, err)
	}

	addr, label := DeriveAddress(info.identity(), p.now)
	p.logger.Debug("port %s identified as %s", info.Name, addr)
	return &Probed{Port: NewPort(info.Name, stream), Address: addr, Label: label}, nil
}

func (p *SerialProbe) selectPort() (PortInfo, error) {
	ports, listErr := p.list()

	if p.PortName != "" {
		for _, pi := range ports {
			if pi.Name == p.PortName {
				return pi, nil
			}
		}
		if listErr != nil {
			p.logger.Verbose("port enumeration failed, opening %s without identity: %v", p.PortName, listErr)
		}
		return PortInfo{Name: p.PortName}, nil
	}

	if listErr != nil {
		return PortInfo{}, listErr
	}
	for _, pi := range ports {
		if pi.IsUSB {
			return pi, nil
		}
	}
	switch len(ports) {
	case 0:
		return PortInfo{}, errors.Unavailable("select", "", fmt.Errorf("no serial ports found"))
	case 1:
		return ports[0], nil
	}
	return PortInfo{}, errors.Unavailable("select", "",
		fmt.Errorf("%d serial ports found and none is USB; choose one with --port", len(ports)))
}

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	// Bytes left over from a previous session would confuse the
	// handshake framing.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// classifyOpenError maps a serial open failure onto the error taxonomy.
// A port that does not exist is unavailable; anything else means the
// port rejected the open.
func classifyOpenError(name string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortNotFound {
		return errors.Unavailable("open", name, err)
	}
	return errors.OpenFailed(name, err)
}
