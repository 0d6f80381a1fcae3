package session

import (
	"context"

	"wearbridge/internal/device"
)

// WriteFunc queues bytes for transmission to the device.  It never
// blocks and fails only once the session has been torn down.
type WriteFunc func(data []byte) error

// HandshakeRequest carries the caller's connect parameters to the
// dispatcher.
type HandshakeRequest struct {
	Name            string
	Address         string
	AuthKey         string
	ProtocolVersion uint32
	ConnectType     device.ConnectType
}

// Dispatcher is the protocol layer that decodes inbound bytes and
// produces outbound ones.
type Dispatcher interface {
	// Handshake negotiates the session over write and returns the
	// device's identity and subsystems.
	Handshake(ctx context.Context, write WriteFunc, req HandshakeRequest) (*device.Device, error)

	// OnBytes receives inbound data in transport order.  It is called
	// from the session's inbound goroutine and must not block for long.
	OnBytes(address string, data []byte)
}

// Forgetter is implemented by dispatchers that keep per-device state.
// Forget is called once a device's session has been torn down.
type Forgetter interface {
	Forget(address string)
}
