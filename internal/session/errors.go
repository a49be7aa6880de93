package session

import "errors"

var (
	// ErrNotOpen is recorded when a message is sent without an open channel.
	ErrNotOpen = errors.New("channel not open")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrAttemptsExhausted is recorded when reconnect.maxAttempts is reached.
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// ChannelError wraps a transport failure.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return "channel error: " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
