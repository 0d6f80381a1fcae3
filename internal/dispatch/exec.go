package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"wearbridge/internal/device"
	"wearbridge/internal/errors"
	"wearbridge/internal/queue"
	"wearbridge/internal/session"
	"wearbridge/util"
)

// Environment variables describing the session to the child process.
const (
	EnvAddress         = "WEARBRIDGE_ADDRESS"
	EnvName            = "WEARBRIDGE_NAME"
	EnvAuthKey         = "WEARBRIDGE_AUTHKEY"
	EnvProtocolVersion = "WEARBRIDGE_PROTOCOL_VERSION"
	EnvConnectType     = "WEARBRIDGE_CONNECT_TYPE"
)

// Exec wires each session to a child process: the child's stdout is
// written to the device and inbound bytes are fed to its stdin.
// Either Program or Command must be set.
type Exec struct {
	Program string // executed directly
	Command string // executed via the system shell
	Stderr  io.Writer

	logger *util.Logger

	mu    sync.Mutex
	procs map[string]*child

	doneOnce sync.Once
	done     chan struct{}
}

type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	inbox  *queue.Unbounded[[]byte] // inbound bytes awaiting the child's stdin
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	fed    chan struct{}
	closed atomic.Bool
}

// NewExec creates an Exec dispatcher.
func NewExec(program, command string, logger *util.Logger) *Exec {
	return &Exec{
		Program: program,
		Command: command,
		Stderr:  os.Stderr,
		logger:  logger,
		procs:   make(map[string]*child),
		done:    make(chan struct{}),
	}
}

// Handshake starts the child process for req.Address.  A process that
// cannot be started fails the handshake.
func (e *Exec) Handshake(_ context.Context, write session.WriteFunc, req session.HandshakeRequest) (*device.Device, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd, err := e.command(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	cmd.Env = append(os.Environ(),
		EnvAddress+"="+req.Address,
		EnvName+"="+req.Name,
		EnvAuthKey+"="+req.AuthKey,
		EnvProtocolVersion+"="+strconv.FormatUint(uint64(req.ProtocolVersion), 10),
		EnvConnectType+"="+req.ConnectType.String(),
	)
	cmd.Stderr = e.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	e.logger.Debug("exec: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("exec %q: %w", cmd.Path, err)
	}

	c := &child{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		inbox:  queue.New[[]byte](),
		ctx:    ctx,
		cancel: cancel,
		exited: make(chan struct{}),
		fed:    make(chan struct{}),
	}
	e.mu.Lock()
	old := e.procs[req.Address]
	e.procs[req.Address] = c
	e.mu.Unlock()
	if old != nil {
		old.stop()
	}

	go e.feed(c)
	go e.run(c, write)
	return &device.Device{Info: device.ConnectionInfo{Name: req.Name, Address: req.Address}}, nil
}

// OnBytes queues inbound data for the child's stdin.  It never blocks,
// even when the child is not reading.
func (e *Exec) OnBytes(address string, data []byte) {
	e.mu.Lock()
	c := e.procs[address]
	e.mu.Unlock()
	if c == nil {
		return
	}
	c.inbox.Push(data)
}

// Forget stops the child serving address.
func (e *Exec) Forget(address string) {
	e.mu.Lock()
	c := e.procs[address]
	delete(e.procs, address)
	e.mu.Unlock()
	if c != nil {
		c.stop()
	}
}

// Done is closed when a child process exits on its own.
func (e *Exec) Done() <-chan struct{} { return e.done }

// feed drains the child's inbox into its stdin until the child is
// stopped or stops reading.
func (e *Exec) feed(c *child) {
	defer close(c.fed)
	for {
		data, ok := c.inbox.Pop(c.ctx)
		if !ok {
			return
		}
		if _, err := c.stdin.Write(data); err != nil {
			if !errors.IsClosed(err) && !c.closed.Load() {
				e.logger.Warn("child stdin: %v", err)
			}
			return
		}
	}
}

func (e *Exec) run(c *child, write session.WriteFunc) {
	err := util.ForwardReader(context.Background(), c.stdout, func(chunk []byte) error {
		return write(chunk)
	})
	if err != nil && !errors.IsClosed(err) && !c.closed.Load() {
		e.logger.Warn("child stdout: %v", err)
	}

	werr := c.cmd.Wait()
	c.inbox.Close()
	c.cancel()
	close(c.exited)

	e.mu.Lock()
	owned := false
	for addr, cur := range e.procs {
		if cur == c {
			delete(e.procs, addr)
			owned = true
		}
	}
	e.mu.Unlock()

	if !owned {
		return // stopped by Forget
	}
	if werr != nil {
		e.logger.Warn("exec %q: %v", c.cmd.Path, werr)
	} else {
		e.logger.Verbose("exec %q finished", c.cmd.Path)
	}
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *Exec) command(ctx context.Context) (*exec.Cmd, error) {
	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			return exec.CommandContext(ctx, "cmd.exe", "/C", e.Command), nil
		}
		return exec.CommandContext(ctx, "/bin/sh", "-c", e.Command), nil
	case e.Program != "":
		return exec.CommandContext(ctx, e.Program), nil
	default:
		return nil, fmt.Errorf("no command specified for exec mode")
	}
}

func (c *child) stop() {
	c.closed.Store(true)
	c.inbox.Close()
	c.stdin.Close()
	c.cancel()
	c.stdout.Close()
	<-c.exited
	<-c.fed
}
