// Package transport defines the message channel the session runs over.
package transport

import "context"

// Close codes shared by transports.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Listener receives connection events. Implementations must not block;
// callbacks arrive on the transport's own goroutines.
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string)
}

// Conn is one connection attempt. It is returned before the connection is
// open; OnOpen or OnClose reports the outcome.
type Conn interface {
	// Send queues one text frame. It reports false when the connection is
	// not open or the frame could not be queued.
	Send(data []byte) bool
	// Close shuts the connection down with the given close code.
	Close(code int, reason string) error
	// Detach stops event delivery to the listener.
	Detach()
}

// Dialer starts connection attempts.
type Dialer interface {
	Dial(ctx context.Context, url string, l Listener) Conn
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are
// skipped.
type ListenerFuncs struct {
	Open    func()
	Message func(data []byte)
	Error   func(err error)
	Close   func(code int, reason string)
}

func (f ListenerFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f ListenerFuncs) OnMessage(data []byte) {
	if f.Message != nil {
		f.Message(data)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ListenerFuncs) OnClose(code int, reason string) {
	if f.Close != nil {
		f.Close(code, reason)
	}
}
