// Package websocket implements transport.Dialer on gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/nodemc/mapsync/internal/transport"
)

const (
	sendChSize       = 256
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Dialer opens WebSocket connections.
type Dialer struct {
	Logger           *slog.Logger
	Header           http.Header
	HandshakeTimeout time.Duration
}

// Dial starts a connection attempt in the background.
func (d *Dialer) Dial(ctx context.Context, rawURL string, l transport.Listener) transport.Conn {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = handshakeTimeout
	}
	c := newConnection(l, logger)
	go c.run(ctx, rawURL, d.Header, timeout)
	return c
}

// connection manages one WebSocket with a single write goroutine.
type connection struct {
	mu       sync.Mutex
	conn     *ws.Conn
	listener transport.Listener
	sendCh   chan []byte
	done     chan struct{} // closed on shutdown
	open     bool
	closed   bool

	logger *slog.Logger
}

func newConnection(l transport.Listener, logger *slog.Logger) *connection {
	return &connection{
		listener: l,
		sendCh:   make(chan []byte, sendChSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (c *connection) run(ctx context.Context, rawURL string, header http.Header, timeout time.Duration) {
	dialer := ws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		err = fmt.Errorf("websocket dial failed: %w", err)
		c.emit(func(l transport.Listener) { l.OnError(err) })
		c.emit(func(l transport.Listener) { l.OnClose(transport.CloseAbnormal, err.Error()) })
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	c.emit(func(l transport.Listener) { l.OnOpen() })
	go c.writeLoop(conn)
	c.readLoop(conn)
}

// readLoop forwards every inbound text frame to the listener and reports
// the close when the socket ends.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			code, reason := transport.CloseAbnormal, ""
			var closeErr *ws.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else {
				select {
				case <-c.done:
					code = transport.CloseNormal
				default:
					c.logger.Warn("WebSocket read error", "error", err)
					c.emit(func(l transport.Listener) { l.OnError(err) })
				}
			}
			c.release()
			c.emit(func(l transport.Listener) { l.OnClose(code, reason) })
			return
		}
		if msgType != ws.TextMessage && msgType != ws.BinaryMessage {
			continue
		}
		c.emit(func(l transport.Listener) { l.OnMessage(message) })
	}
}

// writeLoop drains sendCh. A write error tears the socket down, which ends
// readLoop and reports the close.
func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// release stops the write loop and frees the socket after the read side
// ended. It is a no-op once Close ran.
func (c *connection) release() {
	c.mu.Lock()
	c.open = false
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *connection) emit(fn func(transport.Listener)) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		fn(l)
	}
}

// Send pushes data to the write loop. Non-blocking; refuses when full.
func (c *connection) Send(data []byte) bool {
	c.mu.Lock()
	ok := c.open && !c.closed
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, refusing message")
		return false
	}
}

func (c *connection) Detach() {
	c.mu.Lock()
	c.listener = nil
	c.mu.Unlock()
}

// Close sends a close frame and shuts down all goroutines.
func (c *connection) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
	return conn.Close()
}
