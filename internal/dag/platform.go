// Package dag defines the domain types of a DAG lifecycle and the narrow
// platform interfaces the lifecycle controller drives.
package dag

import "context"

// Registry makes a saved artifact visible to the scheduler.
type Registry interface {
	// Rescan asks the scheduler to re-index its definitions directory.
	// Returns an error wrapping apperrors.ErrRegistryUnavailable when the
	// scheduler cannot be reached.
	Rescan(ctx context.Context) error
}

// Validator statically checks a registered artifact.
type Validator interface {
	// Validate blocks until the scheduler has a definitive parse result for
	// the artifact. A timeout wraps apperrors.ErrValidationTimeout.
	Validate(ctx context.Context, a *Artifact) (DiagnosticSet, error)
}

// Tester performs a non-destructive trial execution of the artifact.
type Tester interface {
	// Test blocks until the trial run completes and returns its findings.
	Test(ctx context.Context, a *Artifact) (DiagnosticSet, error)
}

// Trigger starts a real run.
type Trigger interface {
	// Trigger starts a run of the artifact and returns it with a fresh id.
	Trigger(ctx context.Context, a *Artifact) (*RunInstance, error)
}

// StatusPoller reads run status. It never sleeps; the controller owns all
// wait policy.
type StatusPoller interface {
	// PollOnce performs a single status query.
	PollOnce(ctx context.Context, runID string) (RunStatus, error)
}

// RunAborter is optionally implemented by platforms that can stop a run.
// The controller uses it to avoid leaving a run unmonitored on shutdown.
type RunAborter interface {
	Abort(ctx context.Context, runID string) error
}

// RunInspector is optionally implemented by platforms that can explain a
// failed run. The diagnostics are forwarded to the Generator.
type RunInspector interface {
	FailedTasks(ctx context.Context, runID string) (DiagnosticSet, error)
}

// Platform bundles the scheduler operations consumed by the controller.
type Platform struct {
	Registry  Registry
	Validator Validator
	Tester    Tester
	Trigger   Trigger
	Poller    StatusPoller
}

// Aborter returns the poller's RunAborter if it implements one.
func (p Platform) Aborter() (RunAborter, bool) {
	a, ok := p.Poller.(RunAborter)
	return a, ok
}

// Inspector returns the poller's RunInspector if it implements one.
func (p Platform) Inspector() (RunInspector, bool) {
	i, ok := p.Poller.(RunInspector)
	return i, ok
}
