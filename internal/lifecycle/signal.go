package lifecycle

import (
	"context"
	"fmt"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/observability"
	"dagpilot/pkg/cloudevent"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// transition moves the session to the next state. Every transition is
// logged, counted, traced and, when configured, sent to the webhook.
func (c *Controller) transition(ctx context.Context, to State, reason string) error {
	s := c.session
	from := s.state
	if !CanTransition(from, to) {
		return apperrors.Internal("lifecycle.transition", fmt.Errorf("illegal transition %s -> %s", from, to))
	}

	now := c.now()
	inState := now.Sub(s.enteredAt)
	s.update(func(s *Session) {
		s.state = to
		s.enteredAt = now
		s.transitions++
	})

	c.logger.Info("Transition",
		"from", from,
		"to", to,
		"attempt", s.attempt,
		"artifactId", s.artifactID(),
		"runId", s.runID(),
		"reason", reason,
	)
	if c.metrics != nil {
		c.metrics.RecordTransition(ctx, string(from), string(to), s.attempt, inState.Seconds())
	}

	if c.span != nil && from != to {
		c.span.SetAttributes(attribute.String("lifecycle.next", string(to)))
		c.span.End()
		c.span = nil
	}
	if !to.IsTerminal() && c.span == nil {
		c.startSpan(ctx, to)
	}

	c.emit(c.events.BuildTransition(string(from), string(to), s.attempt, s.artifactID(), reason))
	return nil
}

// emit queues ev for the webhook. Drops are counted by the notifier and
// never stop the session.
func (c *Controller) emit(ev *cloudevent.CloudEvent) {
	if err := c.notifier.Notify(ev); err != nil {
		c.logger.Debug("Event not queued", "type", ev.Type, "error", err)
	}
}

func (c *Controller) startSpan(ctx context.Context, state State) {
	_, c.span = c.tracer.Start(ctx, "lifecycle."+string(state),
		trace.WithAttributes(
			observability.StageAttr(string(state)),
			attribute.Int("lifecycle.attempt", c.session.attempt),
			attribute.String("lifecycle.session_id", c.session.id),
		),
	)
}

// succeed finalizes a successful session.
func (c *Controller) succeed(ctx context.Context) (*Report, error) {
	report := c.report(nil)
	report.RunID = c.lastRunID

	c.logger.Info("Session succeeded",
		"runId", report.RunID,
		"attempts", report.Attempts,
		"elapsed", report.Elapsed,
		"infraRetries", report.InfraRetries,
	)
	if c.metrics != nil {
		c.metrics.RecordSession(context.WithoutCancel(ctx), string(StateSucceeded), apperrors.Kind(nil))
	}
	c.emit(c.events.BuildSucceeded(report.RunID, report.Attempts, report.Elapsed))
	return report, nil
}

// fail records a fatal fault and moves the session to StateFailed. A run
// still live is aborted first, whatever the fault.
func (c *Controller) fail(ctx context.Context, cause error) (*Report, error) {
	ctx = context.WithoutCancel(ctx)
	s := c.session
	if s.runID() != "" {
		cause = c.abortLive(ctx, cause)
	}
	fatal := &FatalError{
		State:       s.state,
		Attempt:     s.attempt,
		RunID:       s.runID(),
		Diagnostics: s.Snapshot().LastDiagnostics,
		Err:         cause,
	}

	if c.span != nil {
		c.span.RecordError(cause)
		c.span.SetStatus(codes.Error, fatal.Kind())
	}
	if err := c.transition(ctx, StateFailed, cause.Error()); err != nil {
		c.logger.Error("Failed to record fatal transition", "error", err)
	}

	c.logger.Error("Session failed",
		"state", fatal.State,
		"attempt", fatal.Attempt,
		"runId", fatal.RunID,
		"kind", fatal.Kind(),
		"diagnostics", len(fatal.Diagnostics),
		"error", cause,
	)
	if c.metrics != nil {
		c.metrics.RecordSession(ctx, string(StateFailed), fatal.Kind())
	}
	c.emit(c.events.BuildFailed(string(fatal.State), fatal.Attempt, fatal.Kind(), cause, fatal.Diagnostics))

	report := c.report(fatal)
	return report, fatal
}

func (c *Controller) report(fatal *FatalError) *Report {
	snap := c.session.Snapshot()
	r := &Report{
		SessionID:       snap.SessionID,
		DAGID:           snap.DAGID,
		FinalState:      snap.State,
		ArtifactID:      snap.ArtifactID,
		Attempts:        snap.Attempt,
		Transitions:     snap.Transitions,
		InfraRetries:    snap.InfraRetries,
		Elapsed:         c.now().Sub(snap.StartedAt),
		LastDiagnostics: snap.LastDiagnostics,
	}
	if fatal != nil {
		r.RunID = fatal.RunID
		r.Kind = fatal.Kind()
		r.Error = fatal.Error()
	}
	return r
}
