package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodemc/mapsync/internal/config"
	"github.com/nodemc/mapsync/internal/render"
	"github.com/nodemc/mapsync/internal/sched"
	"github.com/nodemc/mapsync/internal/storage/memory"
	"github.com/nodemc/mapsync/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu       sync.Mutex
	l        transport.Listener
	url      string
	sent     [][]byte
	refuse   bool
	detached bool
	closed   bool
	code     int

	// settle blocks until the actor handled every posted event.
	settle func()
}

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse || c.closed {
		return false
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return true
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	return nil
}

func (c *fakeConn) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
}

// listener returns nil once detached, like a real connection that stopped
// delivering events.
func (c *fakeConn) listener() transport.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil
	}
	return c.l
}

func (c *fakeConn) wait() {
	if c.settle != nil {
		c.settle()
	}
}

func (c *fakeConn) open() {
	if l := c.listener(); l != nil {
		l.OnOpen()
	}
	c.wait()
}

func (c *fakeConn) deliver(frame string) {
	if l := c.listener(); l != nil {
		l.OnMessage([]byte(frame))
	}
	c.wait()
}

func (c *fakeConn) fail(err error) {
	if l := c.listener(); l != nil {
		l.OnError(err)
	}
	c.wait()
}

func (c *fakeConn) remoteClose(code int) {
	if l := c.listener(); l != nil {
		l.OnClose(code, "")
	}
	c.wait()
}

// deliverStale calls the listener even after Detach.
func (c *fakeConn) deliverStale(frame string) {
	c.l.OnMessage([]byte(frame))
	c.wait()
}

func (c *fakeConn) isDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *fakeConn) closeCode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.closed
}

// frames decodes every sent message.
func (c *fakeConn) frames() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// framesOfType returns sent messages with the given type.
func (c *fakeConn) framesOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, f := range c.frames() {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	settle func()
}

func (d *fakeDialer) Dial(_ context.Context, url string, l transport.Listener) transport.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{l: l, url: url, settle: d.settle}
	d.conns = append(d.conns, c)
	return c
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type harness struct {
	m       *Manager
	dialer  *fakeDialer
	clock   *sched.Manual
	surface *render.Recorder
	journal *memory.Backend
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	clock := sched.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	surface := render.NewRecorder()
	projector, err := render.NewProjector(surface, render.DefaultConfig())
	require.NoError(t, err)
	journal := memory.New(config.MemoryConfig{})
	require.NoError(t, journal.Init())

	h := &harness{
		dialer:  &fakeDialer{},
		clock:   clock,
		surface: surface,
		journal: journal,
	}
	opts := Options{
		Endpoint:       "ws://sync.test/adminws",
		ClientID:       "viewer-1",
		RoomCode:       "room",
		ReconnectDelay: time.Second,
		ResyncCooldown: 1500 * time.Millisecond,
		AckTimeout:     10 * time.Second,
		Dialer:         h.dialer,
		Scheduler:      clock,
		Now:            clock.Now,
		Projector:      projector,
		Journal:        journal,
		Logger:         testLogger(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.m, err = New(opts)
	require.NoError(t, err)
	h.dialer.settle = h.sync

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run has started once a call goes through.
	require.Eventually(t, func() bool { return h.m.Connect() }, time.Second, time.Millisecond)
	return h
}

// open connects and completes the transport handshake on the newest
// connection.
func (h *harness) open(t *testing.T) *fakeConn {
	t.Helper()
	conn := h.dialer.last()
	require.NotNil(t, conn)
	conn.open()
	h.sync()
	return conn
}

// sync waits until the actor has processed everything posted so far.
func (h *harness) sync() {
	h.m.Status()
}

// advance moves the manual clock and lets the actor run what fired.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.sync()
}
