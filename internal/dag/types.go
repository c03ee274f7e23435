package dag

import (
	"fmt"
	"time"

	"dagpilot/internal/apperrors"
)

// Artifact is one persisted generation of the DAG file. A new failure
// produces a new Artifact; saved artifacts are never edited in place.
type Artifact struct {
	ID        string    `json:"id"`
	Content   []byte    `json:"-"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	Attempt   int       `json:"attempt"`
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Stage that produced a diagnostic.
type Stage string

const (
	StageValidation Stage = "validation"
	StageTest       Stage = "test"
	StageRun        Stage = "run"
)

// Diagnostic is a single finding reported by the platform. TaskID and
// Source are filled when the platform identifies them.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Stage    Stage    `json:"stage"`
	TaskID   string   `json:"taskId,omitempty"`
	Source   string   `json:"source,omitempty"`
}

func (d Diagnostic) String() string {
	prefix := fmt.Sprintf("[%s/%s]", d.Stage, d.Severity)
	if d.TaskID != "" {
		prefix += " task=" + d.TaskID
	}
	return prefix + " " + d.Message
}

// RunStatus is the normalized state of a triggered run.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed
}

// ParseRunStatus maps a platform run state onto RunStatus. States the
// scheduler uses while a run is waiting map to queued.
func ParseRunStatus(state string) (RunStatus, error) {
	switch state {
	case "", "none", "queued", "scheduled", "restarting", "up_for_retry", "up_for_reschedule", "deferred":
		return RunQueued, nil
	case "running":
		return RunRunning, nil
	case "success":
		return RunSuccess, nil
	case "failed", "upstream_failed":
		return RunFailed, nil
	default:
		return "", apperrors.Wrap(apperrors.ErrUnknownStatus, "dag.parseRunStatus", fmt.Errorf("state %q", state))
	}
}

// RunInstance is a triggered run. It is live until a terminal status has
// been observed and acted upon.
type RunInstance struct {
	RunID      string    `json:"runId"`
	ArtifactID string    `json:"artifactId"`
	Status     RunStatus `json:"status"`
	ObservedAt time.Time `json:"observedAt"`
}
