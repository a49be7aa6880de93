package channel

import "context"

// Unbuffered is a rendezvous mailbox
type Unbuffered[T any] struct {
	ch chan T
}

// NewUnbuffered creates a mailbox without a buffer
func NewUnbuffered[T any]() *Unbuffered[T] {
	return &Unbuffered[T]{ch: make(chan T)}
}

// Send blocks until the receiver takes the value
func (u *Unbuffered[T]) Send(v T) {
	u.ch <- v
}

// TrySend succeeds only when a receiver is waiting
func (u *Unbuffered[T]) TrySend(v T) bool {
	select {
	case u.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the receive-only channel
func (u *Unbuffered[T]) Receive() <-chan T {
	return u.ch
}

// Len always returns 0 for unbuffered channels
func (u *Unbuffered[T]) Len() int {
	return 0
}

func (u *Unbuffered[T]) SendContext(ctx context.Context, v T) error {
	select {
	case u.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
