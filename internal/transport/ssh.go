package transport

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"wearbridge/internal/errors"
	"wearbridge/tunnel"
	"wearbridge/util"
)

// DefaultRelayCommand bridges a gateway's serial device to the SSH
// session.  {device} and {baud} are substituted before execution.
const DefaultRelayCommand = "socat - {device},raw,echo=0,b{baud}"

var devicePathRE = regexp.MustCompile(`^[A-Za-z0-9_./:-]+$`)

// RemoteProbe opens a serial device attached to an SSH gateway.  The
// tunnel is connected lazily on the first Open and reused until Close.
type RemoteProbe struct {
	Device  string
	Command string

	tunnel    tunnel.Tunnel
	host      string
	logger    *util.Logger
	now       func() time.Time
	mu        sync.Mutex
	connected bool
}

// NewRemoteProbe creates a probe that reaches device through an SSH
// tunnel to cfg.Host.  An empty command selects DefaultRelayCommand.
func NewRemoteProbe(cfg *tunnel.SSHConfig, device, command string, logger *util.Logger) *RemoteProbe {
	return newRemoteProbe(tunnel.NewSSHTunnel(cfg, logger), cfg.Host, device, command, logger)
}

func newRemoteProbe(t tunnel.Tunnel, host, device, command string, logger *util.Logger) *RemoteProbe {
	if command == "" {
		command = DefaultRelayCommand
	}
	return &RemoteProbe{
		Device:  device,
		Command: command,
		tunnel:  t,
		host:    host,
		logger:  logger,
		now:     time.Now,
	}
}

// Open runs the relay command and returns its standard streams as the
// transport.  The remote side has no hardware identity, so the address
// is a timestamp and the label is "<host>:<device>".
func (p *RemoteProbe) Open(ctx context.Context, baud int) (*Probed, error) {
	name := p.host + ":" + p.Device
	if p.Device == "" {
		return nil, errors.Unavailable("select", p.host, fmt.Errorf("no remote device configured"))
	}
	if !devicePathRE.MatchString(p.Device) {
		return nil, errors.OpenFailed(name, fmt.Errorf("invalid device path %q", p.Device))
	}
	if baud <= 0 {
		baud = DefaultBaud
	}

	if err := p.connect(ctx); err != nil {
		return nil, errors.Unavailable("open", name, err)
	}

	cmd := strings.NewReplacer("{device}", p.Device, "{baud}", strconv.Itoa(baud)).Replace(p.Command)
	stream, err := p.tunnel.Exec(ctx, cmd)
	if err != nil {
		return nil, errors.OpenFailed(name, err)
	}

	addr, _ := DeriveAddress(Identity{}, p.now)
	return &Probed{Port: NewPort(name, stream), Address: addr, Label: name}, nil
}

// Close tears down the SSH tunnel.
func (p *RemoteProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		p.connected = false
		return p.tunnel.Close()
	}
	return nil
}

// connect establishes the tunnel if it is not already up.
func (p *RemoteProbe) connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected && p.tunnel.IsAlive() {
		return nil
	}
	if p.connected {
		p.logger.Verbose("SSH tunnel to %s lost, reconnecting", p.host)
		p.tunnel.Close()
		p.connected = false
	}

	p.logger.Verbose("establishing SSH tunnel to %s", p.host)
	if err := p.tunnel.Connect(ctx); err != nil {
		return err
	}
	p.connected = true
	return nil
}
