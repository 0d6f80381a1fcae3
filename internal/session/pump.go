package session

import (
	"context"

	"wearbridge/internal/errors"
	"wearbridge/util"
)

// startPump acquires the reader handle and spawns the inbound and
// outbound goroutines on the session's execution context.
func (m *Manager) startPump(s *Session) error {
	r, err := s.port.Reader()
	if err != nil {
		return err
	}
	s.reader = r
	s.exec.spawn(func(ctx context.Context) { m.outboundLoop(ctx, s) })
	s.exec.spawn(func(ctx context.Context) { m.inboundLoop(ctx, s) })
	return nil
}

// outboundLoop writes queued buffers in submission order.  A write
// failure ends the loop without triggering a disconnect; the inbound
// side observes the broken link.
func (m *Manager) outboundLoop(ctx context.Context, s *Session) {
	for {
		data, ok := s.outbound.Pop(ctx)
		if !ok {
			return
		}
		w, err := s.port.Writer()
		if err != nil {
			s.log.Verbose("outbound stopped: %v", err)
			return
		}
		if _, err := w.Write(data); err != nil {
			if !errors.IsClosed(err) {
				s.log.Error("write failed: %v", err)
				m.metrics.RecordError(err.Error())
			}
			return
		}
		m.metrics.BytesSent(int64(len(data)))
		s.log.Debug("send: %s", util.ToHex(data))
	}
}

// inboundLoop forwards transport reads to the dispatcher in arrival
// order.  End of stream or a read error triggers the remote
// disconnect path once, unless the session is already being torn down
// locally.
func (m *Manager) inboundLoop(ctx context.Context, s *Session) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		n, err := s.reader.Read(*buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, (*buf)[:n])
			m.metrics.BytesReceived(int64(n))
			s.log.Debug("recv: %s", util.ToHex(chunk))
			m.dispatcher.OnBytes(s.Address, chunk)
		}
		if err == nil {
			continue
		}

		s.ended.Store(true)
		if ctx.Err() != nil || errors.Is(err, errors.ErrHandleReleased) {
			return
		}
		if errors.IsClosed(err) {
			s.log.Info("device closed the stream")
		} else {
			s.log.Warn("read failed: %v", err)
			m.metrics.RecordError(err.Error())
		}
		// teardown waits for this goroutine, so it runs on its own.
		go m.remoteDisconnect(s)
		return
	}
}
