package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/config"
	"dagpilot/internal/dag"
	"dagpilot/internal/generator"
	"dagpilot/internal/notify"
	"dagpilot/pkg/backoff"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// errWallClock is the context cause set when the session ceiling elapses.
var errWallClock = errors.New("wall-clock ceiling reached")

// Saver persists generated content. *artifact.Store implements it.
type Saver interface {
	Save(ctx context.Context, content []byte, target string, attempt int) (*dag.Artifact, error)
}

// MetricsRecorder is an optional interface for recording lifecycle metrics.
type MetricsRecorder interface {
	RecordTransition(ctx context.Context, from, to string, attempt int, durationSeconds float64)
	RecordRegeneration(ctx context.Context, cause string)
	RecordInfraRetry(ctx context.Context, op, kind string)
	RecordPoll(ctx context.Context, status string)
	RecordSession(ctx context.Context, result, kind string)
}

// Options wires a Controller.
type Options struct {
	DAG       config.DAG
	Config    Config
	Store     Saver
	Generator generator.Generator
	Platform  dag.Platform
	Metrics   MetricsRecorder // optional
	Notifier  notify.Notifier // optional
	Tracer    trace.Tracer    // optional
}

// Controller runs one lifecycle session.
type Controller struct {
	dag       config.DAG
	cfg       Config
	store     Saver
	generator generator.Generator
	platform  dag.Platform
	metrics   MetricsRecorder
	notifier  notify.Notifier
	events    *dag.EventBuilder
	tracer    trace.Tracer
	logger    *slog.Logger

	session   *Session
	content   []byte            // output of the last Generate, input to Save
	feedback  dag.DiagnosticSet // diagnostics for the next Generate
	span      trace.Span        // span of the current state
	lastRunID string            // most recently triggered run

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller for a fresh session.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Generator == nil {
		return nil, apperrors.Validation("options", "store and generator are required")
	}
	p := opts.Platform
	if p.Registry == nil || p.Validator == nil || p.Tester == nil || p.Trigger == nil || p.Poller == nil {
		return nil, apperrors.Validation("platform", "all platform operations are required")
	}
	if err := opts.DAG.Validate(); err != nil {
		return nil, err
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	sessionID := uuid.NewString()
	return &Controller{
		dag:       opts.DAG.Clone(),
		cfg:       opts.Config.withDefaults(),
		store:     opts.Store,
		generator: opts.Generator,
		platform:  p,
		metrics:   opts.Metrics,
		notifier:  notifier,
		events:    dag.NewEventBuilder(sessionID, opts.DAG.ID),
		tracer:    tracer,
		logger:    slog.With("component", "lifecycle", "sessionId", sessionID, "dagId", opts.DAG.ID),
		session:   newSession(sessionID, opts.DAG.ID),
		now:       time.Now,
		sleep:     backoff.Sleep,
	}, nil
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	return c.session.Snapshot()
}

// Run drives the session until it succeeds or hits a fatal fault. On a
// fatal fault the returned error is a *FatalError; the Report is returned
// in both cases.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	start := c.now()
	c.session.update(func(s *Session) {
		s.startedAt = start
		s.enteredAt = start
	})
	c.logger.Info("Session started",
		"target", c.dag.TargetPath(c.cfg.DAGsDir),
		"maxGenerations", c.cfg.MaxGenerations,
		"maxWallClock", c.cfg.MaxWallClock,
	)

	runCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.MaxWallClock, errWallClock)
	defer cancel()

	c.startSpan(runCtx, StateGenerate)
	for {
		if runCtx.Err() != nil {
			return c.fail(ctx, c.interrupted(runCtx))
		}

		next, reason, err := c.step(runCtx, c.session.state)
		if err != nil {
			if runCtx.Err() != nil {
				err = c.interrupted(runCtx)
			}
			return c.fail(ctx, err)
		}
		if err := c.transition(runCtx, next, reason); err != nil {
			return c.fail(ctx, err)
		}
		if next == StateSucceeded {
			return c.succeed(ctx)
		}
	}
}

// step performs the work of one state and returns the next state.
func (c *Controller) step(ctx context.Context, state State) (State, string, error) {
	switch state {
	case StateGenerate:
		return c.generate(ctx)
	case StateSave:
		return c.save(ctx)
	case StateRegister:
		return c.register(ctx)
	case StateValidate:
		return c.validate(ctx)
	case StateTest:
		return c.test(ctx)
	case StateTrigger:
		return c.trigger(ctx)
	case StateMonitor:
		return c.monitor(ctx)
	default:
		return "", "", apperrors.Internal("lifecycle.step", fmt.Errorf("no handler for state %s", state))
	}
}

func (c *Controller) generate(ctx context.Context) (State, string, error) {
	s := c.session
	if s.attempt >= c.cfg.MaxGenerations {
		return "", "", apperrors.Wrap(apperrors.ErrCeilingExceeded, "lifecycle.generate",
			fmt.Errorf("generation ceiling of %d reached", c.cfg.MaxGenerations))
	}

	attempt := s.attempt + 1
	s.update(func(s *Session) { s.attempt = attempt })

	req := generator.Request{
		DAG:         c.dag.Clone(),
		Attempt:     attempt,
		Diagnostics: c.feedback,
	}
	if s.artifact != nil {
		req.PreviousContent = string(s.artifact.Content)
	}

	content, err := c.generator.Generate(ctx, req)
	if err != nil {
		if !errors.Is(err, apperrors.ErrGeneration) && ctx.Err() == nil {
			err = apperrors.Wrap(apperrors.ErrGeneration, "lifecycle.generate", err)
		}
		return "", "", err
	}
	c.content = content
	return StateSave, fmt.Sprintf("generated %d bytes", len(content)), nil
}

func (c *Controller) save(ctx context.Context) (State, string, error) {
	// Write failures are fatal and never retried.
	a, err := c.store.Save(ctx, c.content, c.dag.FileName(), c.session.attempt)
	if err != nil {
		return "", "", err
	}
	c.content = nil
	c.session.update(func(s *Session) { s.artifact = a })
	return StateRegister, "saved " + a.Path, nil
}

func (c *Controller) register(ctx context.Context) (State, string, error) {
	if err := c.infra(ctx, "rescan", c.platform.Registry.Rescan); err != nil {
		return "", "", err
	}
	return StateValidate, "rescanned", nil
}

func (c *Controller) validate(ctx context.Context) (State, string, error) {
	var diags dag.DiagnosticSet
	err := c.infra(ctx, "validate", func(ctx context.Context) error {
		var err error
		diags, err = c.platform.Validator.Validate(ctx, c.session.artifact)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return c.gate(ctx, dag.StageValidation, diags, StateTest)
}

func (c *Controller) test(ctx context.Context) (State, string, error) {
	var diags dag.DiagnosticSet
	err := c.infra(ctx, "test", func(ctx context.Context) error {
		var err error
		diags, err = c.platform.Tester.Test(ctx, c.session.artifact)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return c.gate(ctx, dag.StageTest, diags, StateTrigger)
}

// gate applies the warnings-ignored rule to a stage result.
func (c *Controller) gate(ctx context.Context, stage dag.Stage, diags dag.DiagnosticSet, next State) (State, string, error) {
	c.session.update(func(s *Session) { s.lastDiagnostics = diags })

	verdict, feedback := dag.Gate(diags)
	if warnings := diags.Warnings(); len(warnings) > 0 {
		c.logger.Info("Ignoring warnings", "stage", stage, "count", len(warnings), "attempt", c.session.attempt)
	}
	if verdict == dag.Regenerate {
		c.feedback = feedback
		c.recordRegeneration(ctx, string(stage))
		return StateGenerate, fmt.Sprintf("%s reported %d error(s)", stage, len(feedback)), nil
	}
	return next, fmt.Sprintf("%s passed with %d warning(s)", stage, len(diags.Warnings())), nil
}

func (c *Controller) trigger(ctx context.Context) (State, string, error) {
	s := c.session
	if s.live != nil {
		return "", "", apperrors.Wrap(apperrors.ErrDuplicateTrigger, "lifecycle.trigger",
			fmt.Errorf("run %s is still live", s.live.RunID))
	}

	var run *dag.RunInstance
	err := c.infra(ctx, "trigger", func(ctx context.Context) error {
		var err error
		run, err = c.platform.Trigger.Trigger(ctx, s.artifact)
		return err
	})
	if err != nil {
		return "", "", err
	}
	s.update(func(s *Session) { s.live = run })
	c.lastRunID = run.RunID
	return StateMonitor, "triggered run " + run.RunID, nil
}

// monitor polls the live run until it reaches a terminal status. Each
// non-terminal observation is a monitor -> monitor transition.
func (c *Controller) monitor(ctx context.Context) (State, string, error) {
	s := c.session
	runID := s.live.RunID

	for poll := 1; ; poll++ {
		var status dag.RunStatus
		err := c.infra(ctx, "poll", func(ctx context.Context) error {
			var err error
			status, err = c.platform.Poller.PollOnce(ctx, runID)
			return err
		})
		if err != nil {
			return "", "", err
		}

		observed := c.now()
		s.update(func(s *Session) {
			s.live.Status = status
			s.live.ObservedAt = observed
		})
		if c.metrics != nil {
			c.metrics.RecordPoll(ctx, string(status))
		}

		switch status {
		case dag.RunSuccess:
			s.update(func(s *Session) { s.live = nil })
			return StateSucceeded, "run " + runID + " succeeded", nil
		case dag.RunFailed:
			diags := c.runFailure(ctx, runID)
			s.update(func(s *Session) {
				s.live = nil
				s.lastDiagnostics = diags
			})
			c.feedback = diags
			c.recordRegeneration(ctx, string(dag.StageRun))
			return StateGenerate, "run " + runID + " failed", nil
		}

		wait := backoff.Exponential(poll, &c.cfg.Poll)
		c.logger.Debug("Run not finished", "runId", runID, "status", status, "poll", poll, "wait", wait)
		if err := c.transition(ctx, StateMonitor, string(status)); err != nil {
			return "", "", err
		}
		if err := c.sleep(ctx, wait); err != nil {
			return "", "", err
		}
	}
}

// runFailure collects the reasons a run failed. It never fails: without
// task details the Generator still learns which run failed.
func (c *Controller) runFailure(ctx context.Context, runID string) dag.DiagnosticSet {
	var diags dag.DiagnosticSet
	if inspector, ok := c.platform.Inspector(); ok {
		err := c.infra(ctx, "inspect", func(ctx context.Context) error {
			var err error
			diags, err = inspector.FailedTasks(ctx, runID)
			return err
		})
		if err != nil {
			c.logger.Warn("Failed to inspect run", "runId", runID, "error", err)
		}
	}
	if !diags.HasErrors() {
		diags = append(diags, dag.Diagnostic{
			Severity: dag.SeverityError,
			Stage:    dag.StageRun,
			Message:  fmt.Sprintf("run %s finished in state failed", runID),
		})
	}
	return diags
}

// infra runs fn under the infrastructure retry budget. Only transient
// faults are retried; the budget is per call.
func (c *Controller) infra(ctx context.Context, op string, fn func(context.Context) error) error {
	onRetry := func(retry int, err error, wait time.Duration) {
		kind := apperrors.Kind(err)
		c.logger.Warn("Infrastructure fault, retrying",
			"op", op,
			"kind", kind,
			"retry", retry,
			"maxRetries", c.cfg.Infra.MaxRetries,
			"wait", wait,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordInfraRetry(ctx, op, kind)
		}
	}

	retries, err := backoff.Retry(ctx, c.cfg.Infra, apperrors.IsTransient, onRetry, fn)
	if retries > 0 {
		c.session.update(func(s *Session) { s.infraRetries += retries })
	}
	if err != nil && apperrors.IsTransient(err) && ctx.Err() == nil {
		return fmt.Errorf("%s: retry budget of %d exhausted: %w", op, c.cfg.Infra.MaxRetries, err)
	}
	return err
}

// interrupted turns a done run context into the fatal cause.
func (c *Controller) interrupted(runCtx context.Context) error {
	if errors.Is(context.Cause(runCtx), errWallClock) {
		return apperrors.Wrap(apperrors.ErrCeilingExceeded, "lifecycle.run",
			fmt.Errorf("wall-clock ceiling of %s reached", c.cfg.MaxWallClock))
	}
	return apperrors.Wrap(apperrors.ErrAborted, "lifecycle.run", context.Cause(runCtx))
}

// abortLive stops the live run before the session fails so it is not left
// unmonitored. The outcome is appended to cause.
func (c *Controller) abortLive(ctx context.Context, cause error) error {
	runID := c.session.runID()
	aborter, ok := c.platform.Aborter()
	if !ok {
		c.logger.Warn("Run left running, platform cannot abort", "runId", runID)
		return cause
	}

	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AbortTimeout)
	defer cancel()
	if err := aborter.Abort(abortCtx, runID); err != nil {
		c.logger.Error("Failed to abort live run", "runId", runID, "error", err)
		return fmt.Errorf("%w (abort of run %s failed: %v)", cause, runID, err)
	}
	c.logger.Warn("Aborted live run", "runId", runID)
	c.session.update(func(s *Session) { s.live.Status = dag.RunFailed })
	return fmt.Errorf("%w (run %s aborted)", cause, runID)
}

func (c *Controller) recordRegeneration(ctx context.Context, cause string) {
	if c.metrics != nil {
		c.metrics.RecordRegeneration(ctx, cause)
	}
}
