// Package dispatch provides dispatchers that let the command line stand
// in for the protocol layer.  Raw relays device bytes to and from local
// stdio; Exec hands the device stream to an external process that
// speaks the wire protocol itself.
//
// Neither dispatcher decodes packets, so the devices they produce
// expose no subsystems.
package dispatch

import (
	"wearbridge/internal/session"
)

// Dispatcher is a session dispatcher whose local side can end on its
// own.  Done is closed when that happens, for example on stdin EOF or
// when the external process exits.
type Dispatcher interface {
	session.Dispatcher
	session.Forgetter
	Done() <-chan struct{}
}

var (
	_ Dispatcher = (*Raw)(nil)
	_ Dispatcher = (*Exec)(nil)
)
