package core

import (
	"context"
	"fmt"

	"wearbridge/internal/session"
)

// PairMode runs the pairing nudge on its own.
type PairMode struct {
	Nudger session.Nudger
	Out    Printer
}

// Run nudges the first matching companion and prints it.  The nudge
// swallows radio errors; only "nothing found" is reported.
func (m *PairMode) Run(ctx context.Context) error {
	peer, ok := m.Nudger.EnsurePairing(ctx)
	if !ok {
		return fmt.Errorf("pair: no companion device discovered")
	}
	return m.Out.Print("peer", peer)
}
