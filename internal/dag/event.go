package dag

import (
	"fmt"
	"sync/atomic"
	"time"

	"dagpilot/pkg/cloudevent"
)

// Event types for lifecycle notifications
const (
	EventTypeTransition = "dagpilot.lifecycle.transition"
	EventTypeSucceeded  = "dagpilot.lifecycle.succeeded"
	EventTypeFailed     = "dagpilot.lifecycle.failed"
)

const eventSource = "dagpilot/controller"

// EventBuilder builds CloudEvents for one lifecycle session. Events carry
// a sequence number starting at 1; ids are <sessionID>-<sequence>.
type EventBuilder struct {
	sessionID string
	dagID     string
	seq       atomic.Int64
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(sessionID, dagID string) *EventBuilder {
	return &EventBuilder{sessionID: sessionID, dagID: dagID}
}

// Build creates a new CloudEvent with the given type and data.
func (b *EventBuilder) Build(eventType string, data map[string]any) *cloudevent.CloudEvent {
	seq := b.seq.Add(1)
	data["sessionId"] = b.sessionID
	data["dagId"] = b.dagID
	ev := cloudevent.New(eventType, eventSource, b.dagID, fmt.Sprintf("%s-%d", b.sessionID, seq), data)
	ev.Sequence = seq
	return ev
}

// BuildTransition creates a state transition event.
func (b *EventBuilder) BuildTransition(from, to string, attempt int, artifactID, reason string) *cloudevent.CloudEvent {
	data := map[string]any{
		"from":    from,
		"to":      to,
		"attempt": attempt,
	}
	if artifactID != "" {
		data["artifactId"] = artifactID
	}
	if reason != "" {
		data["reason"] = reason
	}
	return b.Build(EventTypeTransition, data)
}

// BuildSucceeded creates the terminal success event.
func (b *EventBuilder) BuildSucceeded(runID string, attempts int, elapsed time.Duration) *cloudevent.CloudEvent {
	return b.Build(EventTypeSucceeded, map[string]any{
		"runId":          runID,
		"attempts":       attempts,
		"elapsedSeconds": elapsed.Seconds(),
	})
}

// BuildFailed creates the fatal fault event.
func (b *EventBuilder) BuildFailed(lastState string, attempts int, kind string, err error, diags DiagnosticSet) *cloudevent.CloudEvent {
	data := map[string]any{
		"lastState": lastState,
		"attempts":  attempts,
		"kind":      kind,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	if len(diags) > 0 {
		data["diagnostics"] = diags
	}
	return b.Build(EventTypeFailed, data)
}
