package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/artifact"
	"dagpilot/internal/config"
	"dagpilot/internal/dag"
	"dagpilot/internal/notify"
	"dagpilot/pkg/backoff"

	"github.com/google/go-cmp/cmp"
)

var (
	syntaxError = dag.Diagnostic{Severity: dag.SeverityError, Stage: dag.StageValidation, Message: "SyntaxError"}
	deprecated  = dag.Diagnostic{Severity: dag.SeverityWarning, Stage: dag.StageValidation, Message: "deprecated"}
	slowTask    = dag.Diagnostic{Severity: dag.SeverityWarning, Stage: dag.StageTest, Message: "slow"}
)

func testDAG() config.DAG {
	return config.DAG{ID: "sales", StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func testConfig(t *testing.T) Config {
	return Config{
		DAGsDir:        t.TempDir(),
		MaxGenerations: 10,
		MaxWallClock:   10 * time.Second,
		Infra: backoff.Policy{
			Config:     backoff.Config{Initial: time.Millisecond, Max: 2 * time.Millisecond},
			MaxRetries: 3,
		},
		Poll:         backoff.Config{Initial: time.Millisecond, Max: 2 * time.Millisecond},
		AbortTimeout: time.Second,
	}
}

type harness struct {
	ctrl     *Controller
	platform *fakePlatform
	gen      *fakeGenerator
	metrics  *fakeMetrics
	notifier *fakeNotifier
}

func newHarness(t *testing.T, fp *fakePlatform, cfg Config) *harness {
	t.Helper()
	h := &harness{
		platform: fp,
		gen:      &fakeGenerator{},
		metrics:  &fakeMetrics{},
		notifier: &fakeNotifier{},
	}
	ctrl, err := New(Options{
		DAG:       testDAG(),
		Config:    cfg,
		Store:     artifact.NewStore(cfg.DAGsDir),
		Generator: h.gen,
		Platform:  fp.platform(),
		Metrics:   h.metrics,
		Notifier:  h.notifier,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func mustSucceed(t *testing.T, report *Report, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !report.Succeeded() {
		t.Fatalf("expected succeeded, got %s", report.FinalState)
	}
}

func mustFatal(t *testing.T, err error) *FatalError {
	t.Helper()
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	return fatal
}

func TestRun_ScriptedSequence(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{
		validate: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{
			ok(dag.DiagnosticSet{syntaxError, deprecated}),
			ok(dag.DiagnosticSet(nil)),
		}},
		test: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{ok(dag.DiagnosticSet(nil))}},
		poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{
			ok(dag.RunQueued), ok(dag.RunRunning), ok(dag.RunSuccess),
		}},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)

	if got := h.gen.calls(); got != 2 {
		t.Errorf("expected exactly 2 Generate calls, got %d", got)
	}
	if report.Attempts != 2 || report.RunID != "run-1" {
		t.Errorf("unexpected report: %+v", report)
	}
	if diff := cmp.Diff(dag.DiagnosticSet{syntaxError}, h.gen.requests[1].Diagnostics); diff != "" {
		t.Errorf("second Generate must receive only the errors (-want +got):\n%s", diff)
	}
	if h.gen.requests[0].Diagnostics != nil {
		t.Error("first Generate must receive no diagnostics")
	}
	if got := string(h.gen.requests[1].PreviousContent); got != "# attempt 1\n" {
		t.Errorf("expected previous content of attempt 1, got %q", got)
	}

	wantTransitions := []string{
		"generate->save", "save->register", "register->validate", "validate->generate",
		"generate->save", "save->register", "register->validate", "validate->test",
		"test->trigger", "trigger->monitor", "monitor->monitor", "monitor->monitor",
		"monitor->succeeded",
	}
	if diff := cmp.Diff(wantTransitions, h.metrics.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if report.Transitions != len(wantTransitions) {
		t.Errorf("report counts %d transitions, want %d", report.Transitions, len(wantTransitions))
	}
	if diff := cmp.Diff([]string{"validation"}, h.metrics.regenerations); diff != "" {
		t.Errorf("regenerations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"succeeded/none"}, h.metrics.sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
	if h.notifier.last() != dag.EventTypeSucceeded {
		t.Errorf("expected final event %s, got %s", dag.EventTypeSucceeded, h.notifier.last())
	}

	data, err := os.ReadFile(testDAG().TargetPath(h.ctrl.cfg.DAGsDir))
	if err != nil || string(data) != "# attempt 2\n" {
		t.Errorf("target file should hold the last attempt, got %q (%v)", data, err)
	}
}

func TestRun_ArtifactLandsInDAGsDir(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunSuccess)}}}
	cfg := testConfig(t)
	h := newHarness(t, fp, cfg)

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)

	want := filepath.Join(cfg.DAGsDir, "sales.py")
	if got := h.ctrl.Snapshot().ArtifactPath; got != want {
		t.Errorf("artifact path = %q, want %q", got, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected the DAG file at %s: %v", want, err)
	}
	entries, err := os.ReadDir(cfg.DAGsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].IsDir() {
		t.Errorf("expected only sales.py in the definitions directory, got %v", entries)
	}
}

func TestRun_AnyErrorRegenerates(t *testing.T) {
	t.Parallel()
	for warnings := 0; warnings <= 3; warnings++ {
		t.Run(fmt.Sprintf("warnings=%d", warnings), func(t *testing.T) {
			t.Parallel()
			first := dag.DiagnosticSet{syntaxError}
			for i := 0; i < warnings; i++ {
				first = append(first, deprecated)
			}
			fp := &fakePlatform{
				validate: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{ok(first), ok(dag.DiagnosticSet(nil))}},
				test: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{
					ok(dag.DiagnosticSet{{Severity: dag.SeverityError, Stage: dag.StageTest, TaskID: "load", Message: "exit 1"}, slowTask}),
					ok(dag.DiagnosticSet(nil)),
				}},
				poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunSuccess)}},
			}
			h := newHarness(t, fp, testConfig(t))

			report, err := h.ctrl.Run(context.Background())
			mustSucceed(t, report, err)

			// validate(err) -> gen, validate(ok) -> test(err) -> gen, validate(ok) -> test(ok)
			if got := h.gen.calls(); got != 3 {
				t.Errorf("expected 3 Generate calls, got %d", got)
			}
			if got := fp.test.count(); got != 2 {
				t.Errorf("Test must not run on an artifact that failed validation, got %d calls", got)
			}
			if len(fp.triggered) != 1 {
				t.Errorf("expected one trigger, got %v", fp.triggered)
			}
			if got := h.gen.requests[2].Diagnostics[0].TaskID; got != "load" {
				t.Errorf("test errors must be forwarded with their task id, got %q", got)
			}
		})
	}
}

func TestRun_WarningsAloneAdvance(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{
		validate: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{ok(dag.DiagnosticSet{deprecated, deprecated, deprecated})}},
		test:     script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{ok(dag.DiagnosticSet{slowTask})}},
		poll:     script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunSuccess)}},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)
	if got := h.gen.calls(); got != 1 {
		t.Errorf("warnings must not cause regeneration, got %d Generate calls", got)
	}
	if len(h.metrics.regenerations) != 0 {
		t.Errorf("unexpected regenerations: %v", h.metrics.regenerations)
	}
}

func TestRun_RunFailedRestartsWholeCycle(t *testing.T) {
	t.Parallel()
	taskFailure := dag.Diagnostic{Severity: dag.SeverityError, Stage: dag.StageRun, TaskID: "load", Message: "task failed (BashOperator)"}
	fp := &fakePlatform{
		poll:        script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunRunning), ok(dag.RunFailed), ok(dag.RunSuccess)}},
		failedTasks: dag.DiagnosticSet{taskFailure},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)

	if got := h.gen.calls(); got != 2 {
		t.Errorf("expected 2 Generate calls, got %d", got)
	}
	for name, got := range map[string]int{
		"rescan":   fp.rescan.count(),
		"validate": fp.validate.count(),
		"test":     fp.test.count(),
		"trigger":  fp.trigger.count(),
	} {
		if got != 2 {
			t.Errorf("expected the full cycle to repeat: %s called %d times", name, got)
		}
	}
	if len(fp.validated) != 2 || fp.validated[0] == fp.validated[1] {
		t.Errorf("expected two distinct artifact ids, got %v", fp.validated)
	}
	if diff := cmp.Diff([]string{"run-1", "run-2"}, fp.triggered); diff != "" {
		t.Errorf("triggered runs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(dag.DiagnosticSet{taskFailure}, h.gen.requests[1].Diagnostics); diff != "" {
		t.Errorf("run failure diagnostics mismatch (-want +got):\n%s", diff)
	}
	if report.RunID != "run-2" || report.ArtifactID != fp.validated[1] {
		t.Errorf("report must name the final run and artifact: %+v", report)
	}
	if diff := cmp.Diff([]string{"run"}, h.metrics.regenerations); diff != "" {
		t.Errorf("regenerations mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_RunFailedWithoutInspectorStillExplains(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{
		poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunFailed), ok(dag.RunSuccess)}},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)
	diags := h.gen.requests[1].Diagnostics
	if len(diags) != 1 || diags[0].Stage != dag.StageRun || diags[0].Severity != dag.SeverityError {
		t.Errorf("expected a generic run failure diagnostic, got %v", diags)
	}
}

func TestRun_ValidationTimeoutIsFatalAfterBudget(t *testing.T) {
	t.Parallel()
	timeout := apperrors.Wrap(apperrors.ErrValidationTimeout, "airflow.validate", errors.New("no parse result"))
	fp := &fakePlatform{
		validate: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{fault[dag.DiagnosticSet](timeout)}},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	fatal := mustFatal(t, err)

	if !errors.Is(err, apperrors.ErrValidationTimeout) {
		t.Errorf("expected ErrValidationTimeout in chain, got %v", err)
	}
	if fatal.Kind() != "validation_timeout" || report.Kind != "validation_timeout" {
		t.Errorf("expected validation_timeout kind, got %s / %s", fatal.Kind(), report.Kind)
	}
	if fatal.State != StateValidate {
		t.Errorf("expected last state validate, got %s", fatal.State)
	}
	if got := fp.validate.count(); got != 4 {
		t.Errorf("expected 1 call + 3 retries, got %d calls", got)
	}
	if got := h.gen.calls(); got != 1 {
		t.Errorf("an infrastructure fault must not regenerate, got %d Generate calls", got)
	}
	if report.InfraRetries != 3 || report.FinalState != StateFailed {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(h.metrics.infraRetries) != 3 || h.metrics.infraRetries[0] != "validate/validation_timeout" {
		t.Errorf("unexpected infra retry metrics: %v", h.metrics.infraRetries)
	}
	if h.notifier.last() != dag.EventTypeFailed {
		t.Errorf("expected final event %s, got %s", dag.EventTypeFailed, h.notifier.last())
	}
}

func TestRun_TransientFaultRecovers(t *testing.T) {
	t.Parallel()
	unavailable := apperrors.Wrap(apperrors.ErrRegistryUnavailable, "dockerexec.rescan", errors.New("exit 1"))
	fp := &fakePlatform{
		rescan: script[struct{}]{steps: []step[struct{}]{fault[struct{}](unavailable), ok(struct{}{})}},
		poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{
			fault[dag.RunStatus](apperrors.Wrap(apperrors.ErrUnknownStatus, "dag.parseRunStatus", errors.New("state \"x\""))),
			ok(dag.RunSuccess),
		}},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)
	if report.InfraRetries != 2 {
		t.Errorf("expected 2 infra retries, got %d", report.InfraRetries)
	}
	if h.gen.calls() != 1 {
		t.Errorf("transient faults must not regenerate")
	}
}

func TestRun_NonTransientPlatformErrorIsFatalImmediately(t *testing.T) {
	t.Parallel()
	rejected := apperrors.FromHTTPStatus("airflow.trigger", 403, "forbidden")
	fp := &fakePlatform{
		trigger: script[struct{}]{steps: []step[struct{}]{fault[struct{}](rejected)}},
	}
	h := newHarness(t, fp, testConfig(t))

	_, err := h.ctrl.Run(context.Background())
	fatal := mustFatal(t, err)
	if fatal.State != StateTrigger || fp.trigger.count() != 1 {
		t.Errorf("expected a single trigger attempt, got state=%s calls=%d", fatal.State, fp.trigger.count())
	}
}

func TestRun_WriteErrorIsFatal(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{}
	store := &failingStore{}
	gen := &fakeGenerator{}
	ctrl, err := New(Options{DAG: testDAG(), Config: testConfig(t), Store: store, Generator: gen, Platform: fp.platform()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = ctrl.Run(context.Background())
	fatal := mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrWrite) || fatal.State != StateSave {
		t.Errorf("expected write error in save, got %s: %v", fatal.State, err)
	}
	if store.calls != 1 {
		t.Errorf("write errors must not be retried, got %d calls", store.calls)
	}
	if fp.rescan.count() != 0 {
		t.Error("nothing may be registered after a failed save")
	}
}

func TestRun_GeneratorFailureIsFatal(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{}
	h := newHarness(t, fp, testConfig(t))
	h.gen.err = errors.New("model quota exhausted")

	_, err := h.ctrl.Run(context.Background())
	fatal := mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrGeneration) || fatal.State != StateGenerate {
		t.Errorf("expected generation fault in generate, got %s: %v", fatal.State, err)
	}
}

func TestRun_GenerationCeiling(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{
		validate: script[dag.DiagnosticSet]{steps: []step[dag.DiagnosticSet]{ok(dag.DiagnosticSet{syntaxError})}},
	}
	cfg := testConfig(t)
	cfg.MaxGenerations = 3
	h := newHarness(t, fp, cfg)

	report, err := h.ctrl.Run(context.Background())
	fatal := mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrCeilingExceeded) {
		t.Errorf("expected ErrCeilingExceeded, got %v", err)
	}
	if got := h.gen.calls(); got != 3 {
		t.Errorf("expected 3 Generate calls, got %d", got)
	}
	if fatal.Attempt != 3 || report.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d / %d", fatal.Attempt, report.Attempts)
	}
	if diff := cmp.Diff(dag.DiagnosticSet{syntaxError}, fatal.Diagnostics); diff != "" {
		t.Errorf("fatal error must carry the last diagnostics (-want +got):\n%s", diff)
	}
}

func TestRun_WallClockCeilingAbortsLiveRun(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{
		poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunRunning)}},
	}
	cfg := testConfig(t)
	cfg.MaxWallClock = 100 * time.Millisecond
	cfg.Poll = backoff.Config{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond}
	h := newHarness(t, fp, cfg)

	_, err := h.ctrl.Run(context.Background())
	fatal := mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrCeilingExceeded) {
		t.Errorf("expected ErrCeilingExceeded, got %v", err)
	}
	if fatal.RunID != "run-1" {
		t.Errorf("fatal error must name the live run, got %q", fatal.RunID)
	}
	if diff := cmp.Diff([]string{"run-1"}, fp.aborted); diff != "" {
		t.Errorf("aborted runs mismatch (-want +got):\n%s", diff)
	}
	if fp.abortCtxErr != nil {
		t.Errorf("abort must use a live context, got %v", fp.abortCtxErr)
	}
}

func TestRun_MonitorRetryExhaustionAbortsLiveRun(t *testing.T) {
	t.Parallel()
	unavailable := apperrors.Wrap(apperrors.ErrPlatformUnavailable, "airflow.poll", errors.New("503 Service Unavailable"))
	fp := &fakePlatform{
		poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunRunning), fault[dag.RunStatus](unavailable)}},
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	fatal := mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrPlatformUnavailable) {
		t.Errorf("expected ErrPlatformUnavailable, got %v", err)
	}
	if fatal.State != StateMonitor || fatal.RunID != "run-1" {
		t.Errorf("expected failure in monitor naming run-1, got %s / %q", fatal.State, fatal.RunID)
	}
	if diff := cmp.Diff([]string{"run-1"}, fp.aborted); diff != "" {
		t.Errorf("aborted runs mismatch (-want +got):\n%s", diff)
	}
	if fp.abortCtxErr != nil {
		t.Errorf("abort must use a live context, got %v", fp.abortCtxErr)
	}
	if got := fp.poll.count(); got != 5 {
		t.Errorf("expected 1 poll + 1 call + 3 retries, got %d polls", got)
	}
	if report.InfraRetries != 3 || report.FinalState != StateFailed {
		t.Errorf("unexpected report: %+v", report)
	}
	if live := h.ctrl.Snapshot().Live; live == nil || live.Status != dag.RunFailed {
		t.Errorf("aborted run must be recorded as failed, got %+v", live)
	}
}

func TestRun_AbortFailureIsReported(t *testing.T) {
	t.Parallel()
	unavailable := apperrors.Wrap(apperrors.ErrPlatformUnavailable, "airflow.poll", errors.New("503 Service Unavailable"))
	fp := &fakePlatform{
		poll:     script[dag.RunStatus]{steps: []step[dag.RunStatus]{fault[dag.RunStatus](unavailable)}},
		abortErr: errors.New("connection refused"),
	}
	h := newHarness(t, fp, testConfig(t))

	_, err := h.ctrl.Run(context.Background())
	mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrPlatformUnavailable) {
		t.Errorf("the original fault must stay in the chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "abort of run run-1 failed: connection refused") {
		t.Errorf("error must report the failed abort, got %v", err)
	}
	if len(fp.aborted) != 1 {
		t.Errorf("expected a single abort attempt, got %v", fp.aborted)
	}
}

func TestRun_CancelAbortsLiveRun(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fp := &fakePlatform{
		poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunRunning)}},
	}
	fp.onPoll = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(ctx)
	fatal := mustFatal(t, err)
	if !errors.Is(err, apperrors.ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
	if fatal.State != StateMonitor || report.FinalState != StateFailed {
		t.Errorf("expected failure from monitor, got %s / %s", fatal.State, report.FinalState)
	}
	if diff := cmp.Diff([]string{"run-1"}, fp.aborted); diff != "" {
		t.Errorf("aborted runs mismatch (-want +got):\n%s", diff)
	}
	if fp.abortCtxErr != nil {
		t.Errorf("abort must not inherit the cancelled context, got %v", fp.abortCtxErr)
	}
}

func TestRun_CancelBeforeTriggerAbortsNothing(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fp := &fakePlatform{}
	h := newHarness(t, fp, testConfig(t))

	_, err := h.ctrl.Run(ctx)
	if !errors.Is(err, apperrors.ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
	if len(fp.aborted) != 0 || h.gen.calls() != 0 {
		t.Errorf("nothing should run after cancellation: aborted=%v generate=%d", fp.aborted, h.gen.calls())
	}
}

func TestRun_NoDuplicateTriggerWhileLive(t *testing.T) {
	t.Parallel()
	steps := []step[dag.RunStatus]{ok(dag.RunQueued), ok(dag.RunQueued)}
	for i := 0; i < 6; i++ {
		steps = append(steps, ok(dag.RunRunning))
	}
	steps = append(steps, ok(dag.RunSuccess))
	fp := &fakePlatform{poll: script[dag.RunStatus]{steps: steps}}
	h := newHarness(t, fp, testConfig(t))

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)
	if got := fp.trigger.count(); got != 1 {
		t.Errorf("expected exactly one trigger, got %d", got)
	}
	if got := fp.poll.count(); got != len(steps) {
		t.Errorf("expected %d polls, got %d", len(steps), got)
	}
}

func TestRun_NotifierFailureDoesNotStopSession(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunSuccess)}}}
	h := newHarness(t, fp, testConfig(t))
	h.notifier.err = notify.ErrBufferFull

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)
	if h.notifier.last() != dag.EventTypeSucceeded {
		t.Errorf("every event must still be offered, last was %q", h.notifier.last())
	}
}

func TestTrigger_RefusesWhileLive(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{}
	h := newHarness(t, fp, testConfig(t))
	h.ctrl.session.live = &dag.RunInstance{RunID: "run-0", Status: dag.RunRunning}

	_, _, err := h.ctrl.trigger(context.Background())
	if !errors.Is(err, apperrors.ErrDuplicateTrigger) {
		t.Fatalf("expected ErrDuplicateTrigger, got %v", err)
	}
	if fp.trigger.count() != 0 {
		t.Error("platform trigger must not be called while a run is live")
	}
}

func TestMonitor_PollBackoffIsCapped(t *testing.T) {
	t.Parallel()
	steps := []step[dag.RunStatus]{}
	for i := 0; i < 6; i++ {
		steps = append(steps, ok(dag.RunRunning))
	}
	steps = append(steps, ok(dag.RunSuccess))
	fp := &fakePlatform{poll: script[dag.RunStatus]{steps: steps}}

	cfg := testConfig(t)
	cfg.Poll = backoff.Config{Initial: 5 * time.Second, Max: 60 * time.Second}
	h := newHarness(t, fp, cfg)

	var waits []time.Duration
	h.ctrl.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	if diff := cmp.Diff(want, waits); diff != "" {
		t.Errorf("poll waits mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{poll: script[dag.RunStatus]{steps: []step[dag.RunStatus]{ok(dag.RunSuccess)}}}
	h := newHarness(t, fp, testConfig(t))

	before := h.ctrl.Snapshot()
	if before.State != StateGenerate || before.Attempt != 0 {
		t.Errorf("unexpected initial snapshot: %+v", before)
	}

	report, err := h.ctrl.Run(context.Background())
	mustSucceed(t, report, err)

	after := h.ctrl.Snapshot()
	if after.State != StateSucceeded || after.Attempt != 1 || after.Live != nil {
		t.Errorf("unexpected final snapshot: %+v", after)
	}
	if after.SessionID == "" || after.SessionID != report.SessionID {
		t.Errorf("snapshot and report must share the session id")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	fp := &fakePlatform{}
	_, err := New(Options{DAG: testDAG(), Generator: &fakeGenerator{}, Platform: fp.platform()})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation without a store, got %v", err)
	}
	_, err = New(Options{DAG: testDAG(), Store: &failingStore{}, Generator: &fakeGenerator{}})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation without a platform, got %v", err)
	}
}
