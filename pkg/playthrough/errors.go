// ABOUTME: Error types for the pass-through controller
// ABOUTME: Setup failures and rejected state transitions
package playthrough

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned for calls not allowed in the current state
	ErrInvalidState = errors.New("playthrough: invalid state transition")

	// ErrNotInitialized is returned when Start is called before Init
	ErrNotInitialized = errors.New("playthrough: not initialized")

	// ErrSetup matches every SetupError via errors.Is
	ErrSetup = errors.New("playthrough: setup failed")
)

// SetupError reports a failure to open, configure or start a device.
// The engine does not run after a setup error.
type SetupError struct {
	Op     string
	Device string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("setup failed: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("setup failed: %s %q: %v", e.Op, e.Device, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSetup) true for any SetupError
func (e *SetupError) Is(target error) bool {
	return target == ErrSetup
}

// invalidState wraps ErrInvalidState with the attempted operation
func invalidState(op string, s State) error {
	return fmt.Errorf("%s while %s: %w", op, s, ErrInvalidState)
}
