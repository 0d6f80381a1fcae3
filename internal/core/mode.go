// Package core is the orchestration layer.  It composes transports,
// dispatchers and the session service into complete command-line modes
// and provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  api / dispatch  →  core  →  cmd (CLI)
package core

import "context"

// Mode is one complete wearbridge command (ports, pair, relay or
// classify).  Each mode owns its full lifecycle.
type Mode interface {
	Run(ctx context.Context) error
}

// Printer is the presentation boundary.  kind names the record ("ports",
// "peer", "event", "file", "stats", "session"); v is the value.
type Printer interface {
	Print(kind string, v any) error
}
