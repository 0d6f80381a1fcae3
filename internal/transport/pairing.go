package transport

import (
	"context"
	"strings"
	"time"

	"wearbridge/util"
)

// WakeByte is written to the companion's control characteristic to
// nudge it into accepting the serial link.
const WakeByte = 0x01

const (
	defaultSettle          = 500 * time.Millisecond
	defaultDiscoverTimeout = 10 * time.Second
)

// Peer identifies a device found on the secondary radio.
type Peer struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Candidate is a (service, characteristic) pair the wake byte may be
// written to.
type Candidate struct {
	Service        string
	Characteristic string
}

// DefaultCandidates lists the control channels tried, in order.
var DefaultCandidates = []Candidate{
	{"0000fe95-0000-1000-8000-00805f9b34fb", "00000051-0000-1000-8000-00805f9b34fb"},
	{"0000fe95-0000-1000-8000-00805f9b34fb", "00000052-0000-1000-8000-00805f9b34fb"},
	{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400002-b5a3-f393-e0a9-e50e24dcca9e"},
}

// DefaultPrefixes admits any device whose name starts with an ASCII
// letter.
var DefaultPrefixes = func() []string {
	out := make([]string, 0, 52)
	for c := 'A'; c <= 'Z'; c++ {
		out = append(out, string(c), string(c+'a'-'A'))
	}
	return out
}()

// Radio is the secondary-radio capability the nudge needs.
type Radio interface {
	// Discover scans until a device whose name satisfies match appears
	// or ctx ends.
	Discover(ctx context.Context, match func(name string) bool) (Peer, error)
	// Connect brings up the control channel to id.  wasConnected is
	// true when the link was already up before the call.
	Connect(ctx context.Context, id string) (wasConnected bool, err error)
	// Write writes data to the characteristic c of device id.
	Write(ctx context.Context, id string, c Candidate, data []byte) error
	// Disconnect drops the control channel to id.
	Disconnect(ctx context.Context, id string) error
}

// Pairer performs the best-effort pre-pairing nudge over a Radio.
type Pairer struct {
	Radio           Radio
	Prefixes        []string
	Candidates      []Candidate
	Settle          time.Duration
	DiscoverTimeout time.Duration

	logger *util.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// NewPairer returns a Pairer with the default allowlist, candidates
// and settle delay.
func NewPairer(radio Radio, logger *util.Logger) *Pairer {
	return &Pairer{
		Radio:           radio,
		Prefixes:        DefaultPrefixes,
		Candidates:      DefaultCandidates,
		Settle:          defaultSettle,
		DiscoverTimeout: defaultDiscoverTimeout,
		logger:          logger,
		sleep:           sleepCtx,
	}
}

// EnsurePairing discovers a companion device and writes the wake byte
// to its first writable candidate characteristic.  Every failure is
// logged and swallowed.  ok is false when no device was discovered.
func (p *Pairer) EnsurePairing(ctx context.Context) (peer Peer, ok bool) {
	if p == nil || p.Radio == nil {
		return Peer{}, false
	}

	dctx, cancel := context.WithTimeout(ctx, p.DiscoverTimeout)
	peer, err := p.Radio.Discover(dctx, p.matchName)
	cancel()
	if err != nil {
		p.logger.Verbose("pairing: no companion found: %v", err)
		return Peer{}, false
	}
	log := p.logger.With("peer", peer.ID)
	log.Verbose("pairing: found %q", peer.Name)

	wasConnected, err := p.Radio.Connect(ctx, peer.ID)
	if err != nil {
		log.Verbose("pairing: connect failed: %v", err)
		return peer, true
	}

	wrote := false
	for _, c := range p.Candidates {
		if err := p.Radio.Write(ctx, peer.ID, c, []byte{WakeByte}); err != nil {
			log.Debug("pairing: write %s/%s: %v", c.Service, c.Characteristic, err)
			continue
		}
		log.Verbose("pairing: wake byte written to %s", c.Characteristic)
		wrote = true
		break
	}
	if !wrote {
		log.Verbose("pairing: no candidate characteristic accepted the wake byte")
	}

	p.sleep(ctx, p.Settle)

	if !wasConnected {
		if err := p.Radio.Disconnect(ctx, peer.ID); err != nil {
			log.Verbose("pairing: disconnect failed: %v", err)
		}
	}
	return peer, true
}

func (p *Pairer) matchName(name string) bool {
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// sleepCtx sleeps for at most d, returning early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
