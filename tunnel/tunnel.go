// Package tunnel provides the SSH client used to reach a serial device
// attached to a remote gateway host.  A relay command on the gateway
// bridges the device node to the SSH session's stdin and stdout.
package tunnel

import (
	"context"
	"io"
)

// Tunnel abstracts an encrypted channel to a gateway that can run a
// command and expose its standard streams.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Exec starts command on the gateway.  Reads return the command's
	// stdout; writes feed its stdin.  Closing the stream ends the
	// remote command.
	Exec(ctx context.Context, command string) (io.ReadWriteCloser, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
