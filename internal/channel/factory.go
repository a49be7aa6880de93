//go:build !debug

package channel

// New creates the mailbox used in production builds: buffered to size.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
