package command

import "errors"

// ErrEmptyTarget is returned for a player command without a player.
var ErrEmptyTarget = errors.New("command failed: empty player id")

// ErrRefused is reported when the channel would not take a command.
var ErrRefused = errors.New("command refused by channel")

// RejectedError is an admin_ack with ok=false.
type RejectedError struct {
	Type   string
	Reason string
}

func (e *RejectedError) Error() string {
	return "command failed: " + e.Reason
}

// TimeoutError is reported when no admin_ack arrived in time.
type TimeoutError struct {
	Type string
}

func (e *TimeoutError) Error() string {
	return "command timeout: " + e.Type
}
