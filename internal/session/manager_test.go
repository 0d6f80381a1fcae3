package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearbridge/internal/device"
	bridgeerr "wearbridge/internal/errors"
)

var watchReq = ConnectRequest{Name: "Watch", AuthKey: "KEY1", ProtocolVersion: 2, ConnectType: device.ConnectSPP}

func TestConnect_RegistersSession(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)

	info, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	want := device.ConnectionInfo{Name: "Watch", Address: "serial:SN123"}
	assert.Equal(t, want, info)
	assert.Equal(t, []Event{{Name: EventConnected, Info: want}}, h.events.named(EventConnected))
	assert.Equal(t, []device.ConnectionInfo{want}, h.mgr.List())
	assert.EqualValues(t, 1, h.metrics.ActiveSessions())

	require.Len(t, h.disp.requests, 1)
	assert.Equal(t, HandshakeRequest{
		Name: "Watch", Address: "serial:SN123", AuthKey: "KEY1",
		ProtocolVersion: 2, ConnectType: device.ConnectSPP,
	}, h.disp.requests[0])
}

func TestConnect_HandshakeFailureReleasesTransport(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	cause := errors.New("bad authkey")
	h.disp.handshakeErr = cause

	_, err := h.mgr.Connect(context.Background(), watchReq)

	var he *bridgeerr.HandshakeError
	require.ErrorAs(t, err, &he)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, h.mgr.List())
	assert.Empty(t, h.events.named(EventConnected))

	// The host end is closed: the device can neither write nor read.
	l.device.SetDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	_, werr := l.device.Write([]byte{0x01})
	assert.ErrorIs(t, werr, io.ErrClosedPipe)
	_, rerr := l.device.Read(make([]byte, 1))
	assert.ErrorIs(t, rerr, io.EOF)
	assert.True(t, l.probed.Port.Closed())
}

func TestDisconnect_UnknownAddress(t *testing.T) {
	h := newHarness(t)

	info := h.mgr.Disconnect("unknown-addr")

	want := device.ConnectionInfo{Name: "", Address: "unknown-addr"}
	assert.Equal(t, want, info)
	assert.Equal(t, []Event{{Name: EventDisconnected, Info: want}}, h.events.named(EventDisconnected))
}

func TestDisconnect_Idempotent(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	first := h.mgr.Disconnect("serial:SN123")
	second := h.mgr.Disconnect("serial:SN123")

	assert.Equal(t, device.ConnectionInfo{Name: "Watch", Address: "serial:SN123"}, first)
	assert.Equal(t, device.ConnectionInfo{Name: "", Address: "serial:SN123"}, second)

	events := h.events.named(EventDisconnected)
	require.Len(t, events, 2)
	assert.Equal(t, "Watch", events[0].Info.Name)
	assert.Equal(t, "", events[1].Info.Name)

	assert.Equal(t, 1, h.disp.forgetCount(), "exactly one teardown")
	assert.Empty(t, h.mgr.List())
	assert.True(t, l.probed.Port.Closed())
	s := h.metrics.Snapshot()
	assert.EqualValues(t, 1, s.LocalDisconnects)
	assert.EqualValues(t, 0, s.SessionsActive)
}

func TestInbound_PreservesOrder(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	chunks := [][]byte{[]byte("c1"), []byte("c2"), []byte("c3")}
	for _, c := range chunks {
		_, err := l.device.Write(c)
		require.NoError(t, err)
	}

	for _, want := range chunks {
		select {
		case got := <-h.disp.chunks:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("chunk %q never reached the dispatcher", want)
		}
	}
	assert.EqualValues(t, 6, h.metrics.TotalBytesIn())
}

func TestOutbound_PreservesOrder(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	h.disp.hello = []byte("HELLO")
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	write := h.disp.write("serial:SN123")
	require.NotNil(t, write)

	var want []byte
	want = append(want, "HELLO"...)
	for i := 0; i < 50; i++ {
		msg := []byte(fmt.Sprintf("<%02d>", i))
		want = append(want, msg...)
		require.NoError(t, write(msg))
	}

	got := readN(t, l.device, len(want))
	assert.Equal(t, string(want), string(got))
}

func TestWrite_AfterTeardownFails(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)
	write := h.disp.write("serial:SN123")

	h.mgr.Disconnect("serial:SN123")
	assert.ErrorIs(t, write([]byte{1}), bridgeerr.ErrStreamClosed)
}

func TestRemoteDisconnect_NotifiesOnce(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	require.NoError(t, l.device.Close())

	require.Eventually(t, func() bool {
		return len(h.events.named(EventDisconnected)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	events := h.events.named(EventDisconnected)
	require.Len(t, events, 1)
	assert.Equal(t, device.ConnectionInfo{Name: "Watch", Address: "serial:SN123"}, events[0].Info)
	assert.Empty(t, h.mgr.List())
	assert.Equal(t, 1, h.disp.forgetCount())
	assert.EqualValues(t, 1, h.metrics.Snapshot().RemoteDisconnects)
}

func TestRemoteAndLocalDisconnect_SingleTeardown(t *testing.T) {
	for i := 0; i < 20; i++ {
		l := newLink(t, "serial:SN123", "SN123")
		h := newHarness(t, l)
		_, err := h.mgr.Connect(context.Background(), watchReq)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); l.device.Close() }()
		go func() { defer wg.Done(); h.mgr.Disconnect("serial:SN123") }()
		wg.Wait()

		// The local call always notifies; the remote trigger only when
		// it won the race.
		require.Eventually(t, func() bool { return h.disp.forgetCount() == 1 }, 2*time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, h.disp.forgetCount())
		events := h.events.named(EventDisconnected)
		assert.True(t, len(events) == 1 || len(events) == 2, "got %d events", len(events))
		assert.Empty(t, h.mgr.List())
	}
}

func TestRemoteDisconnect_AfterRegistrationFollowsConnected(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	h.mgr.registered = func(s *Session) {
		l.device.Close()
		for deadline := time.Now().Add(2 * time.Second); s.State() != Disconnected && time.Now().Before(deadline); {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
	}

	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.events.named(EventDisconnected)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	require.Len(t, h.events.events, 2)
	assert.Equal(t, EventConnected, h.events.events[0].Name)
	assert.Equal(t, EventDisconnected, h.events.events[1].Name)
}

func TestDisconnect_FromConnectedSink(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	h.mgr.Notifier().SetSink(func(event string, info device.ConnectionInfo) {
		h.events.sink(event, info)
		if event == EventConnected {
			h.mgr.Disconnect(info.Address)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.mgr.Connect(context.Background(), watchReq)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect blocked on a sink that disconnects")
	}

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	require.Len(t, h.events.events, 2)
	assert.Equal(t, EventConnected, h.events.events[0].Name)
	assert.Equal(t, EventDisconnected, h.events.events[1].Name)
	assert.Empty(t, h.mgr.List())
}

func TestConnect_TearsDownExistingSessions(t *testing.T) {
	first := newLink(t, "serial:SN1", "SN1")
	second := newLink(t, "serial:SN2", "SN2")
	h := newHarness(t, first, second)

	_, err := h.mgr.Connect(context.Background(), ConnectRequest{})
	require.NoError(t, err)
	_, err = h.mgr.Connect(context.Background(), ConnectRequest{})
	require.NoError(t, err)

	assert.Equal(t, []device.ConnectionInfo{{Name: "SN2", Address: "serial:SN2"}}, h.mgr.List())
	disc := h.events.named(EventDisconnected)
	require.Len(t, disc, 1)
	assert.Equal(t, "serial:SN1", disc[0].Info.Address)
	assert.True(t, first.probed.Port.Closed())
}

func TestConnect_StreamEndedDuringHandshake(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	h.disp.duringShake = func() {
		l.device.Close()
		time.Sleep(50 * time.Millisecond)
	}

	_, err := h.mgr.Connect(context.Background(), watchReq)

	var he *bridgeerr.HandshakeError
	require.ErrorAs(t, err, &he)
	assert.ErrorIs(t, err, bridgeerr.ErrStreamClosed)
	assert.Empty(t, h.mgr.List())
	assert.Empty(t, h.events.named(EventConnected))
	assert.Empty(t, h.events.named(EventDisconnected), "a session that never registered emits nothing")
}

func TestConnect_ProbeFailure(t *testing.T) {
	h := newHarness(t)
	h.probe.err = bridgeerr.Unavailable("select", "", errors.New("no serial ports found"))

	_, err := h.mgr.Connect(context.Background(), watchReq)
	assert.ErrorIs(t, err, bridgeerr.ErrTransportUnavailable)
	assert.Empty(t, h.disp.requests)
	assert.Empty(t, h.events.named(EventConnected))
}

func TestConnect_NudgeBeforeProbe(t *testing.T) {
	var order []string
	l := newLink(t, "serial:SN123", "SN123")
	probe := &fakeProbe{links: []*link{l}, order: &order}
	mgr := NewManager(probe, newFakeDispatcher(),
		WithLogger(quietLogger()), WithNudger(&fakeNudger{order: &order}))
	t.Cleanup(func() { mgr.DisconnectAll() })

	_, err := mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"nudge", "probe"}, order)
}

func TestConnect_NameAndAddressResolution(t *testing.T) {
	tests := []struct {
		name      string
		req       ConnectRequest
		label     string
		handshake string
		want      device.ConnectionInfo
	}{
		{"explicit name", ConnectRequest{Name: "Watch"}, "SN9", "", device.ConnectionInfo{Name: "Watch", Address: "serial:SN9"}},
		{"label fallback", ConnectRequest{}, "SN9", "", device.ConnectionInfo{Name: "SN9", Address: "serial:SN9"}},
		{"generic default", ConnectRequest{Name: "  "}, "", "", device.ConnectionInfo{Name: device.DefaultName, Address: "serial:SN9"}},
		{"address hint", ConnectRequest{Name: "Watch", Address: "AA:BB:CC"}, "SN9", "", device.ConnectionInfo{Name: "Watch", Address: "AA:BB:CC"}},
		{"blank hint ignored", ConnectRequest{Address: " "}, "SN9", "", device.ConnectionInfo{Name: "SN9", Address: "serial:SN9"}},
		{"handshake name", ConnectRequest{Name: "Watch"}, "SN9", "Band 8", device.ConnectionInfo{Name: "Band 8", Address: "serial:SN9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLink(t, "serial:SN9", tt.label)
			h := newHarness(t, l)
			h.disp.name = tt.handshake
			info, err := h.mgr.Connect(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info)
		})
	}
}

func TestWithDevice(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	h.disp.systems = device.Subsystems{Watchface: &noopWatchface{}}
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	err = h.mgr.WithDevice("serial:SN123", func(s device.Subsystems) error {
		w, err := s.RequireWatchface("serial:SN123")
		if err != nil {
			return err
		}
		w.SetWatchface("face-1")
		_, err = s.RequireInfo("serial:SN123")
		return err
	})
	assert.ErrorIs(t, err, bridgeerr.ErrSubsystemNotFound)

	err = h.mgr.WithDevice("nope", func(device.Subsystems) error { return nil })
	assert.ErrorIs(t, err, bridgeerr.ErrDeviceNotFound)
}

type noopWatchface struct{}

func (noopWatchface) SetWatchface(string)       {}
func (noopWatchface) UninstallWatchface(string) {}

func TestState(t *testing.T) {
	l := newLink(t, "serial:SN123", "SN123")
	h := newHarness(t, l)
	_, err := h.mgr.Connect(context.Background(), watchReq)
	require.NoError(t, err)

	s, ok := h.mgr.Lookup("serial:SN123")
	require.True(t, ok)
	assert.Equal(t, Connected, s.State())
	assert.NotEmpty(t, s.ID)

	h.mgr.Disconnect("serial:SN123")
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, "disconnected", s.State().String())
}
