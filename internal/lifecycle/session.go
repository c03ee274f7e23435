package lifecycle

import (
	"slices"
	"sync"
	"time"

	"dagpilot/internal/dag"
)

// Session is the state of one end-to-end attempt chain. It is written only
// by the controller; Snapshot may be called concurrently.
type Session struct {
	mu sync.RWMutex

	id              string
	dagID           string
	state           State
	artifact        *dag.Artifact
	attempt         int
	startedAt       time.Time
	enteredAt       time.Time
	live            *dag.RunInstance
	transitions     int
	infraRetries    int
	lastDiagnostics dag.DiagnosticSet
}

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	SessionID       string            `json:"sessionId"`
	DAGID           string            `json:"dagId"`
	State           State             `json:"state"`
	Attempt         int               `json:"attempt"`
	ArtifactID      string            `json:"artifactId,omitempty"`
	ArtifactPath    string            `json:"artifactPath,omitempty"`
	StartedAt       time.Time         `json:"startedAt"`
	EnteredAt       time.Time         `json:"enteredAt"`
	Live            *dag.RunInstance  `json:"live,omitempty"`
	Transitions     int               `json:"transitions"`
	InfraRetries    int               `json:"infraRetries"`
	LastDiagnostics dag.DiagnosticSet `json:"lastDiagnostics,omitempty"`
}

func newSession(id, dagID string) *Session {
	return &Session{id: id, dagID: dagID, state: StateGenerate}
}

func (s *Session) update(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Snapshot returns a copy safe to serialize.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID:       s.id,
		DAGID:           s.dagID,
		State:           s.state,
		Attempt:         s.attempt,
		StartedAt:       s.startedAt,
		EnteredAt:       s.enteredAt,
		Transitions:     s.transitions,
		InfraRetries:    s.infraRetries,
		LastDiagnostics: slices.Clone(s.lastDiagnostics),
	}
	if s.artifact != nil {
		snap.ArtifactID = s.artifact.ID
		snap.ArtifactPath = s.artifact.Path
	}
	if s.live != nil {
		live := *s.live
		snap.Live = &live
	}
	return snap
}

func (s *Session) artifactID() string {
	if s.artifact == nil {
		return ""
	}
	return s.artifact.ID
}

func (s *Session) runID() string {
	if s.live == nil {
		return ""
	}
	return s.live.RunID
}
