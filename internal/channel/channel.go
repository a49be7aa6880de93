// Package channel provides the generic mailbox the session actor drains.
package channel

import "context"

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	// Send blocks until the value is accepted.
	Send(T)
	// TrySend never blocks and reports whether the value was accepted.
	TrySend(T) bool
	// SendContext blocks until the value is accepted or ctx is done.
	SendContext(ctx context.Context, v T) error
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
}
