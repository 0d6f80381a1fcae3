package session

import (
	"context"
	"sync"

	"wearbridge/internal/device"
	"wearbridge/util"
)

// Event names delivered to sinks and subscribers.
const (
	EventConnected    = "device-connected"
	EventDisconnected = "device-disconnected"
)

// Event is one connection notification.
type Event struct {
	Name string                `json:"event"`
	Info device.ConnectionInfo `json:"payload"`
}

// Sink receives notifications synchronously.
type Sink func(event string, info device.ConnectionInfo)

const subscriberBuffer = 32

// Notifier fans connection events out to one replaceable sink and any
// number of channel subscribers.  Slow subscribers miss events rather
// than stall the emitter.
type Notifier struct {
	logger *util.Logger

	mu   sync.RWMutex
	sink Sink
	subs map[chan Event]struct{}
}

// NewNotifier creates a Notifier with no sink.
func NewNotifier(logger *util.Logger) *Notifier {
	return &Notifier{logger: logger, subs: make(map[chan Event]struct{})}
}

// SetSink installs sink, replacing any previous one.  nil removes it.
func (n *Notifier) SetSink(sink Sink) {
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

// Subscribe returns a channel receiving every subsequent event.  The
// channel is closed when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch
}

// Emit delivers event to the sink, then to subscribers.
func (n *Notifier) Emit(event string, info device.ConnectionInfo) {
	n.mu.RLock()
	sink := n.sink
	for ch := range n.subs {
		select {
		case ch <- Event{Name: event, Info: info}:
		default:
			n.logger.Warn("subscriber lagging, dropped %s for %s", event, info.Address)
		}
	}
	n.mu.RUnlock()

	if sink != nil {
		n.callSink(sink, event, info)
	}
}

// callSink shields the emitter from a panicking sink.
func (n *Notifier) callSink(sink Sink, event string, info device.ConnectionInfo) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event sink panicked on %s: %v", event, r)
		}
	}()
	sink(event, info)
}
