package core

import (
	"context"
	"io"

	"wearbridge/internal/api"
	"wearbridge/internal/device"
	"wearbridge/internal/dispatch"
	"wearbridge/internal/metrics"
	"wearbridge/internal/retry"
	"wearbridge/internal/session"
	"wearbridge/util"
)

// RelayMode connects one device and keeps the session up until local
// input ends, the device goes away, or ctx is cancelled.
type RelayMode struct {
	Service    *api.Service
	Dispatcher dispatch.Dispatcher
	Request    session.ConnectRequest
	Backoff    *retry.Backoff
	Out        Printer
	Logger     *util.Logger
	Metrics    *metrics.Collector
	Stats      bool

	// Closer releases probe resources (an SSH gateway) on exit.
	Closer io.Closer
}

// Run connects with the configured backoff, prints connection events,
// and disconnects on the way out.
func (m *RelayMode) Run(ctx context.Context) error {
	if m.Closer != nil {
		defer m.Closer.Close()
	}

	evCtx, stopEvents := context.WithCancel(context.Background())
	events := m.Service.Subscribe(evCtx)
	lost := make(chan string, 8)
	printed := make(chan struct{})
	go m.printEvents(events, lost, printed)
	flushEvents := func() {
		stopEvents()
		<-printed
	}

	var info device.ConnectionInfo
	err := m.backoff().Do(ctx, func(attempt int) error {
		if attempt > 1 {
			m.Logger.Info("connect attempt %d", attempt)
		}
		var err error
		info, err = m.Service.Connect(ctx, m.Request)
		return err
	})
	if err != nil {
		flushEvents()
		return err
	}
	m.Logger.Info("relaying %s (%s)", info.Address, info.Name)

	remote := false
wait:
	for {
		select {
		case <-ctx.Done():
			m.Logger.Verbose("interrupted")
			break wait
		case <-m.Dispatcher.Done():
			m.Logger.Verbose("local side finished")
			break wait
		case addr := <-lost:
			if addr == info.Address {
				remote = true
				break wait
			}
		}
	}

	if !remote {
		m.Service.Disconnect(info.Address)
	}
	flushEvents()
	if m.Stats {
		return m.Out.Print("stats", m.Metrics.Snapshot())
	}
	return nil
}

func (m *RelayMode) backoff() *retry.Backoff {
	if m.Backoff != nil {
		return m.Backoff
	}
	return &retry.Backoff{MaxAttempts: 1}
}

func (m *RelayMode) printEvents(events <-chan session.Event, lost chan<- string, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		if err := m.Out.Print("event", ev); err != nil {
			m.Logger.Warn("print event: %v", err)
		}
		if ev.Name != session.EventDisconnected {
			continue
		}
		select {
		case lost <- ev.Info.Address:
		default:
		}
	}
}
