package channel

import "context"

// Buffered is a buffered mailbox
type Buffered[T any] struct {
	ch chan T
}

// NewBuffered creates a mailbox holding up to size pending values
func NewBuffered[T any](size int) *Buffered[T] {
	return &Buffered[T]{ch: make(chan T, size)}
}

func (b *Buffered[T]) Send(v T) {
	b.ch <- v
}

func (b *Buffered[T]) TrySend(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the receive-only channel
func (b *Buffered[T]) Receive() <-chan T {
	return b.ch
}

// Len returns the number of pending values
func (b *Buffered[T]) Len() int {
	return len(b.ch)
}

func (b *Buffered[T]) SendContext(ctx context.Context, v T) error {
	select {
	case b.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
