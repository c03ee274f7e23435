package lifecycle

import (
	"time"

	"dagpilot/internal/dag"
)

// Report is the user-visible outcome of a session.
type Report struct {
	SessionID       string            `json:"sessionId"`
	DAGID           string            `json:"dagId"`
	FinalState      State             `json:"finalState"`
	RunID           string            `json:"runId,omitempty"`
	ArtifactID      string            `json:"artifactId,omitempty"`
	Attempts        int               `json:"attempts"`
	Transitions     int               `json:"transitions"`
	InfraRetries    int               `json:"infraRetries"`
	Elapsed         time.Duration     `json:"elapsed"`
	LastDiagnostics dag.DiagnosticSet `json:"lastDiagnostics,omitempty"`
	Kind            string            `json:"kind,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Succeeded reports whether the session reached StateSucceeded.
func (r *Report) Succeeded() bool {
	return r.FinalState == StateSucceeded
}
