package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodemc/mapsync/internal/transport"
)

// Compile-time interface check.
var _ transport.Dialer = (*Dialer)(nil)

// echoServer upgrades to WebSocket, records received frames and echoes
// each one back.
func echoServer(t *testing.T) (*httptest.Server, *frameLog) {
	t.Helper()
	fl := &frameLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				if ce, ok := err.(*ws.CloseError); ok {
					fl.setCloseCode(ce.Code)
				}
				return
			}
			fl.add(string(msg))
			if err := c.WriteMessage(ws.TextMessage, msg); err != nil {
				return
			}
		}
	}))

	return srv, fl
}

type frameLog struct {
	mu        sync.Mutex
	frames    []string
	closeCode int
}

func (f *frameLog) add(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, s)
}

func (f *frameLog) setCloseCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
}

func (f *frameLog) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *frameLog) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// eventLog is a transport.Listener recording every callback.
type eventLog struct {
	mu     sync.Mutex
	events []string
	opened chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newEventLog() *eventLog {
	return &eventLog{opened: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (e *eventLog) record(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, s)
}

func (e *eventLog) OnOpen() {
	e.record("open")
	e.opened <- struct{}{}
}

func (e *eventLog) OnMessage(data []byte) { e.record("message:" + string(data)) }
func (e *eventLog) OnError(err error)     { e.record("error") }
func (e *eventLog) OnClose(code int, reason string) {
	e.record("close")
	e.once.Do(func() { close(e.closed) })
}

func (e *eventLog) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDial_SendAndReceive(t *testing.T) {
	srv, fl := echoServer(t)
	defer srv.Close()

	events := newEventLog()
	d := &Dialer{}
	conn := d.Dial(context.Background(), wsURL(srv), events)
	defer conn.Close(transport.CloseNormal, "")

	waitFor(t, events.opened, "open")
	require.True(t, conn.Send([]byte(`{"type":"ping"}`)))

	assert.Eventually(t, func() bool {
		for _, e := range events.all() {
			if e == `message:{"type":"ping"}` {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"type":"ping"}`}, fl.all())
}

func TestDial_FailureReportsErrorThenClose(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	events := newEventLog()
	conn := (&Dialer{HandshakeTimeout: time.Second}).Dial(context.Background(), url, events)

	waitFor(t, events.closed, "close")
	assert.Equal(t, []string{"error", "close"}, events.all())
	assert.False(t, conn.Send([]byte("x")), "send must be refused on a failed connection")
}

func TestSend_RefusedBeforeOpen(t *testing.T) {
	c := newConnection(nil, testLogger())
	assert.False(t, c.Send([]byte("x")))
}

func TestClose_SendsNormalClosure(t *testing.T) {
	srv, fl := echoServer(t)
	defer srv.Close()

	events := newEventLog()
	conn := (&Dialer{}).Dial(context.Background(), wsURL(srv), events)
	waitFor(t, events.opened, "open")

	require.NoError(t, conn.Close(transport.CloseNormal, "bye"))
	assert.False(t, conn.Send([]byte("x")))

	assert.Eventually(t, func() bool { return fl.code() == ws.CloseNormalClosure }, 5*time.Second, 10*time.Millisecond)
	waitFor(t, events.closed, "close")
}

func TestDetach_StopsEvents(t *testing.T) {
	srv, _ := echoServer(t)
	defer srv.Close()

	events := newEventLog()
	conn := (&Dialer{}).Dial(context.Background(), wsURL(srv), events)
	waitFor(t, events.opened, "open")

	conn.Detach()
	require.True(t, conn.Send([]byte("late")))
	require.NoError(t, conn.Close(transport.CloseNormal, ""))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"open"}, events.all())
}

// restartingServer accepts the upgrade and immediately closes with
// CloseGoingAway.
func restartingServer() *httptest.Server {
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "restart"))
		time.Sleep(50 * time.Millisecond)
	}))
}

func TestServerCloseReportsCode(t *testing.T) {
	srv := restartingServer()
	defer srv.Close()

	var mu sync.Mutex
	var gotCode int
	var gotReason string
	done := make(chan struct{})
	l := transport.ListenerFuncs{Close: func(code int, reason string) {
		mu.Lock()
		gotCode, gotReason = code, reason
		mu.Unlock()
		close(done)
	}}
	conn := (&Dialer{}).Dial(context.Background(), wsURL(srv), l)
	defer conn.Close(transport.CloseNormal, "")

	waitFor(t, done, "close")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ws.CloseGoingAway, gotCode)
	assert.Equal(t, "restart", gotReason)
}

func TestServerClose_ReleasesConnection(t *testing.T) {
	srv := restartingServer()
	defer srv.Close()

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		events := newEventLog()
		conn := (&Dialer{}).Dial(context.Background(), wsURL(srv), events)
		waitFor(t, events.closed, "close")
		conn.Detach()
		assert.False(t, conn.Send([]byte("x")), "send must be refused after a remote close")
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 5*time.Second, 20*time.Millisecond, "write loops must exit after a remote close")
}

func TestClose_AfterServerCloseIsNoop(t *testing.T) {
	srv := restartingServer()
	defer srv.Close()

	events := newEventLog()
	conn := (&Dialer{}).Dial(context.Background(), wsURL(srv), events)
	waitFor(t, events.closed, "close")

	assert.NoError(t, conn.Close(transport.CloseNormal, ""))
}
