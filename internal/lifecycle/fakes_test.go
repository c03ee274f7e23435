package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/dag"
	"dagpilot/internal/generator"
	"dagpilot/internal/notify"
	"dagpilot/pkg/cloudevent"
)

// step is one scripted response.
type step[T any] struct {
	val T
	err error
}

// script replays steps in order and repeats the last one once exhausted.
type script[T any] struct {
	mu    sync.Mutex
	steps []step[T]
	calls int
}

func (s *script[T]) next() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		var zero T
		return zero, nil
	}
	i := min(s.calls, len(s.steps)) - 1
	return s.steps[i].val, s.steps[i].err
}

func (s *script[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ok[T any](v T) step[T]          { return step[T]{val: v} }
func fault[T any](err error) step[T] { return step[T]{err: err} }

// fakePlatform implements every dag platform interface from scripts.
type fakePlatform struct {
	rescan   script[struct{}]
	validate script[dag.DiagnosticSet]
	test     script[dag.DiagnosticSet]
	trigger  script[struct{}]
	poll     script[dag.RunStatus]

	failedTasks dag.DiagnosticSet
	onPoll      func(n int)

	mu          sync.Mutex
	validated   []string // artifact ids
	triggered   []string // run ids
	aborted     []string
	abortCtxErr error
	abortErr    error
}

func (f *fakePlatform) platform() dag.Platform {
	return dag.Platform{Registry: f, Validator: f, Tester: f, Trigger: f, Poller: f}
}

func (f *fakePlatform) Rescan(context.Context) error {
	_, err := f.rescan.next()
	return err
}

func (f *fakePlatform) Validate(_ context.Context, a *dag.Artifact) (dag.DiagnosticSet, error) {
	f.mu.Lock()
	f.validated = append(f.validated, a.ID)
	f.mu.Unlock()
	return f.validate.next()
}

func (f *fakePlatform) Test(context.Context, *dag.Artifact) (dag.DiagnosticSet, error) {
	return f.test.next()
}

func (f *fakePlatform) Trigger(_ context.Context, a *dag.Artifact) (*dag.RunInstance, error) {
	if _, err := f.trigger.next(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	runID := fmt.Sprintf("run-%d", len(f.triggered)+1)
	f.triggered = append(f.triggered, runID)
	return &dag.RunInstance{RunID: runID, ArtifactID: a.ID, Status: dag.RunQueued}, nil
}

func (f *fakePlatform) PollOnce(context.Context, string) (dag.RunStatus, error) {
	status, err := f.poll.next()
	if f.onPoll != nil {
		f.onPoll(f.poll.count())
	}
	return status, err
}

func (f *fakePlatform) Abort(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, runID)
	f.abortCtxErr = ctx.Err()
	return f.abortErr
}

func (f *fakePlatform) FailedTasks(context.Context, string) (dag.DiagnosticSet, error) {
	return f.failedTasks, nil
}

// fakeGenerator returns numbered content and records requests.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []generator.Request
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, req generator.Request) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return []byte(fmt.Sprintf("# attempt %d\n", req.Attempt)), nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// failingStore always fails with a write error.
type failingStore struct {
	calls int
}

func (s *failingStore) Save(context.Context, []byte, string, int) (*dag.Artifact, error) {
	s.calls++
	return nil, apperrors.Wrap(apperrors.ErrWrite, "artifact.save", fmt.Errorf("disk full"))
}

// fakeMetrics counts recorded signals.
type fakeMetrics struct {
	mu            sync.Mutex
	transitions   []string
	regenerations []string
	infraRetries  []string
	polls         []string
	sessions      []string
}

func (m *fakeMetrics) RecordTransition(_ context.Context, from, to string, _ int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func (m *fakeMetrics) RecordRegeneration(_ context.Context, cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regenerations = append(m.regenerations, cause)
}

func (m *fakeMetrics) RecordInfraRetry(_ context.Context, op, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infraRetries = append(m.infraRetries, op+"/"+kind)
}

func (m *fakeMetrics) RecordPoll(_ context.Context, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls = append(m.polls, status)
}

func (m *fakeMetrics) RecordSession(_ context.Context, result, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, result+"/"+kind)
}

// fakeNotifier records event types and returns err from Notify.
type fakeNotifier struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (n *fakeNotifier) Notify(ev *cloudevent.CloudEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, ev.Type)
	return n.err
}

func (n *fakeNotifier) Stats() notify.Stats        { return notify.Stats{} }
func (n *fakeNotifier) Close(context.Context) error { return nil }

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.types) == 0 {
		return ""
	}
	return n.types[len(n.types)-1]
}
