package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearbridge/internal/device"
)

func TestNotifier_Subscribe(t *testing.T) {
	n := NewNotifier(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	ch := n.Subscribe(ctx)

	info := device.ConnectionInfo{Name: "Watch", Address: "serial:SN1"}
	n.Emit(EventConnected, info)

	select {
	case ev := <-ch:
		assert.Equal(t, Event{Name: EventConnected, Info: info}, ev)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Emitting after the subscriber left must not panic.
	n.Emit(EventDisconnected, info)
}

func TestNotifier_SlowSubscriberDoesNotBlock(t *testing.T) {
	n := NewNotifier(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := n.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			n.Emit(EventConnected, device.ConnectionInfo{Address: "a"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestNotifier_SinkReplaced(t *testing.T) {
	n := NewNotifier(quietLogger())
	first, second := &recorder{}, &recorder{}

	n.SetSink(first.sink)
	n.Emit(EventConnected, device.ConnectionInfo{Address: "a"})
	n.SetSink(second.sink)
	n.Emit(EventDisconnected, device.ConnectionInfo{Address: "a"})

	assert.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, EventDisconnected, second.events[0].Name)

	n.SetSink(nil)
	n.Emit(EventConnected, device.ConnectionInfo{Address: "b"})
	assert.Len(t, second.events, 1)
}

func TestNotifier_PanickingSink(t *testing.T) {
	n := NewNotifier(quietLogger())
	n.SetSink(func(string, device.ConnectionInfo) { panic("boom") })
	assert.NotPanics(t, func() {
		n.Emit(EventConnected, device.ConnectionInfo{Address: "a"})
	})
}
