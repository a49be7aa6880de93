package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nodemc/mapsync/internal/status"
	"github.com/nodemc/mapsync/internal/storage"
	"github.com/nodemc/mapsync/internal/transport"
	"github.com/nodemc/mapsync/pkg/protocol"
)

// listener forwards transport events of one connection generation to the
// actor.
type listener struct {
	m   *Manager
	gen uint64
}

func (l listener) OnOpen() {
	l.m.post(func() {
		if l.m.current(l.gen) {
			l.m.onOpen()
		}
	})
}

func (l listener) OnMessage(data []byte) {
	received := time.Now()
	l.m.post(func() {
		if l.m.current(l.gen) {
			l.m.onMessage(data, received)
		}
	})
}

func (l listener) OnError(err error) {
	l.m.post(func() {
		if l.m.current(l.gen) {
			l.m.onError(err)
		}
	})
}

func (l listener) OnClose(code int, reason string) {
	l.m.post(func() {
		if l.m.current(l.gen) {
			l.m.onClose(code, reason)
		}
	})
}

// current reports whether events of gen still belong to the live
// connection.
func (m *Manager) current(gen uint64) bool {
	return gen == m.gen && m.conn != nil
}

func (m *Manager) connect() {
	if m.state == status.ConnOpen || m.state == status.ConnConnecting {
		return
	}
	m.cancelReconnect()
	m.manual = false
	m.gen++
	m.state = status.ConnConnecting
	m.phase = status.PhaseConnecting
	m.mirror.ResetBaseline()
	m.mirror.SetRevision(0)
	m.limiter.Reset()

	ctx := m.runCtx
	if ctx == nil {
		ctx = m.life
	}
	m.logger.Info("connecting", "endpoint", m.opts.Endpoint, "attempt", m.attempts)
	m.conn = m.opts.Dialer.Dial(ctx, m.opts.Endpoint, listener{m: m, gen: m.gen})
}

func (m *Manager) onOpen() {
	m.state = status.ConnOpen
	m.phase = status.PhaseHandshaking
	m.attempts = 0
	m.lastError = ""
	m.logger.Info("channel open", "endpoint", m.opts.Endpoint)

	m.send(protocol.NewHandshake(m.opts.Channel, m.opts.RoomCode, m.opts.ClientID))
	m.startKeepalive()
	m.record(storage.KindSessionOpened, map[string]any{"endpoint": m.opts.Endpoint})
}

func (m *Manager) onError(err error) {
	cerr := &ChannelError{Err: err}
	m.lastError = cerr.Error()
	m.logger.Warn("channel error", "error", err)
}

func (m *Manager) onClose(code int, reason string) {
	m.teardown()
	m.state = status.ConnClosed
	m.phase = status.PhaseDisconnected
	m.logger.Info("channel closed", "code", code, "reason", reason, "manual", m.manual)
	m.record(storage.KindSessionClosed, map[string]any{"code": code, "reason": reason})

	if !m.manual {
		m.scheduleReconnect()
	}
}

// teardown releases the connection without touching the phase.
func (m *Manager) teardown() {
	m.stopKeepalive()
	if m.conn != nil {
		m.conn.Detach()
		m.conn = nil
	}
	m.commands.Reset()
}

func (m *Manager) disconnect() {
	m.manual = true
	m.cancelReconnect()
	if conn := m.conn; conn != nil {
		m.teardown()
		if err := conn.Close(transport.CloseNormal, "client disconnect"); err != nil {
			m.logger.Debug("close failed", "error", err)
		}
		m.record(storage.KindSessionClosed, map[string]any{
			"code":   transport.CloseNormal,
			"reason": "client disconnect",
		})
	}
	m.gen++
	if m.state != status.ConnIdle {
		m.state = status.ConnClosed
	}
	m.phase = status.PhaseDisconnected
}

// shutdown runs when the actor stops.
func (m *Manager) shutdown() {
	m.disconnect()
	m.logger.Info("session stopped")
}

// scheduleReconnect arms the single reconnect timer. A timer that is
// already pending is left alone.
func (m *Manager) scheduleReconnect() {
	if m.reconnectTimer != nil {
		return
	}
	if limit := m.opts.MaxReconnectAttempts; limit > 0 && m.attempts >= limit {
		m.lastError = ErrAttemptsExhausted.Error()
		m.logger.Warn("giving up on reconnect", "attempts", m.attempts)
		return
	}

	m.attempts++
	m.counters.Reconnects++
	m.metrics.reconnects.Add(m.life, 1)

	m.reconnectSeq++
	seq := m.reconnectSeq
	m.logger.Info("reconnect scheduled", "delay", m.opts.ReconnectDelay, "attempt", m.attempts)
	m.reconnectTimer = m.after(m.opts.ReconnectDelay, func() {
		if seq != m.reconnectSeq || m.reconnectTimer == nil {
			return
		}
		m.reconnectTimer = nil
		m.connect()
	})
}

func (m *Manager) cancelReconnect() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

func (m *Manager) startKeepalive() {
	m.stopKeepalive()
	interval := m.opts.KeepaliveInterval
	if interval <= 0 {
		return
	}
	gen := m.gen
	var tick func()
	tick = func() {
		if gen != m.gen || m.state != status.ConnOpen {
			return
		}
		m.send(protocol.Ping{Type: protocol.TypePing})
		m.keepalive = m.after(interval, tick)
	}
	m.keepalive = m.after(interval, tick)
}

func (m *Manager) stopKeepalive() {
	if m.keepalive != nil {
		m.keepalive.Stop()
		m.keepalive = nil
	}
}

// send encodes msg and writes it. Every failure lands in lastError.
func (m *Manager) send(msg any) bool {
	if m.conn == nil || m.state != status.ConnOpen {
		m.lastError = ErrNotOpen.Error()
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.lastError = fmt.Sprintf("encode failed: %v", err)
		m.logger.Warn("encode failed", "error", err)
		return false
	}
	if !m.conn.Send(data) {
		m.lastError = "send failed"
		m.logger.Warn("send failed", "bytes", len(data))
		return false
	}
	return true
}
