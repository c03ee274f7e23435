package lifecycle

import (
	"fmt"
	"strings"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/dag"
)

// FatalError is a controller-level fault that ended the session. It keeps
// the last known state, the attempt count and the diagnostics in force.
type FatalError struct {
	State       State
	Attempt     int
	RunID       string
	Diagnostics dag.DiagnosticSet
	Err         error
}

func (e *FatalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lifecycle failed in %s after %d attempt(s)", e.State, e.Attempt)
	if e.RunID != "" {
		fmt.Fprintf(&b, " (run %s)", e.RunID)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Kind returns the error kind label of the underlying cause.
func (e *FatalError) Kind() string {
	return apperrors.Kind(e.Err)
}
