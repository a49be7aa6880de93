//go:build debug

package channel

// New creates the mailbox used in debug builds. Size is ignored so that
// every hand-off is a rendezvous and ordering bugs surface early.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
