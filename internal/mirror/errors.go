package mirror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPatchBeforeBaseline is returned for a patch that arrives before any
	// full snapshot on the current connection.
	ErrPatchBeforeBaseline = errors.New("patch before baseline")

	// ErrBaselineDrift marks a patch that referenced unknown ids without the
	// fields needed to create them.
	ErrBaselineDrift = errors.New("baseline drift")
)

// DriftError lists the ids that revealed drift, per scope.
type DriftError struct {
	IDs map[Scope][]string
}

func (e *DriftError) Error() string {
	parts := make([]string, 0, len(e.IDs))
	for _, s := range Scopes {
		if ids := e.IDs[s]; len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", s, strings.Join(ids, ",")))
		}
	}
	return fmt.Sprintf("baseline drift: incomplete new records %s", strings.Join(parts, " "))
}

// Is makes errors.Is(err, ErrBaselineDrift) hold.
func (e *DriftError) Is(target error) bool {
	return target == ErrBaselineDrift
}

// MalformedMessageError wraps a frame that could not be decoded.
type MalformedMessageError struct {
	Type string
	Err  error
}

func (e *MalformedMessageError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed message: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s message: %v", e.Type, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}
