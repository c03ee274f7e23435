package airflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/dag"
)

// RunIDPrefix marks dag runs started by dagpilot.
const RunIDPrefix = "dagpilot__"

// RunID returns the dag_run_id used for an artifact. Each artifact is
// triggered at most once, so the id is unique per run and a retried trigger
// after a lost response resolves to the same run.
func RunID(artifactID string) string {
	return RunIDPrefix + artifactID
}

// Trigger unpauses the DAG and starts a run of the artifact.
func (c *Client) Trigger(ctx context.Context, a *dag.Artifact) (*dag.RunInstance, error) {
	if err := c.do(ctx, "airflow.unpause", http.MethodPatch, c.dagPath(),
		url.Values{"update_mask": {"is_paused"}}, dagPauseUpdate{IsPaused: false}, nil); err != nil {
		return nil, err
	}

	runID := RunID(a.ID)
	req := dagRunRequest{
		DAGRunID: runID,
		Conf:     map[string]any{"artifact_id": a.ID, "attempt": a.Attempt},
		Note:     fmt.Sprintf("dagpilot attempt %d", a.Attempt),
	}

	var run dagRun
	err := c.do(ctx, "airflow.trigger", http.MethodPost, c.dagPath()+"/dagRuns", nil, req, &run)
	if errors.Is(err, apperrors.ErrConflict) {
		// A previous attempt of this call already created the run.
		c.logger.Warn("Run already exists, adopting it", "runId", runID)
		err = c.do(ctx, "airflow.getRun", http.MethodGet, c.runPath(runID), nil, nil, &run)
	}
	if err != nil {
		return nil, err
	}

	// The run exists at this point, so an unrecognized state must not fail
	// the trigger. PollOnce reports it on the next observation.
	status, err := dag.ParseRunStatus(run.State)
	if err != nil {
		c.logger.Warn("Unrecognized run state, assuming queued", "runId", run.DAGRunID, "state", run.State, "error", err)
		status = dag.RunQueued
	}
	c.logger.Info("Run triggered", "runId", run.DAGRunID, "artifactId", a.ID, "state", run.State)
	return &dag.RunInstance{
		RunID:      run.DAGRunID,
		ArtifactID: a.ID,
		Status:     status,
		ObservedAt: c.now(),
	}, nil
}

// PollOnce reads the current state of a run. It never waits.
func (c *Client) PollOnce(ctx context.Context, runID string) (dag.RunStatus, error) {
	var run dagRun
	if err := c.do(ctx, "airflow.pollRun", http.MethodGet, c.runPath(runID), nil, nil, &run); err != nil {
		return "", err
	}
	return dag.ParseRunStatus(run.State)
}

// Abort marks a run as failed so the scheduler stops it.
func (c *Client) Abort(ctx context.Context, runID string) error {
	return c.do(ctx, "airflow.abortRun", http.MethodPatch, c.runPath(runID), nil, dagRunStateUpdate{State: "failed"}, nil)
}

// FailedTasks lists the failed task instances of a run, each with the tail
// of its log when available.
func (c *Client) FailedTasks(ctx context.Context, runID string) (dag.DiagnosticSet, error) {
	var list taskInstanceList
	if err := c.do(ctx, "airflow.taskInstances", http.MethodGet, c.runPath(runID)+"/taskInstances", nil, nil, &list); err != nil {
		return nil, err
	}

	var diags dag.DiagnosticSet
	for _, ti := range list.TaskInstances {
		if ti.State != "failed" && ti.State != "upstream_failed" {
			continue
		}
		msg := fmt.Sprintf("task %s (%s)", ti.State, ti.Operator)
		if ti.State == "failed" && c.cfg.LogTailLines > 0 {
			if tail := c.logTail(ctx, runID, ti); tail != "" {
				msg += "\n" + tail
			}
		}
		diags = append(diags, dag.Diagnostic{
			Severity: dag.SeverityError,
			Stage:    dag.StageRun,
			TaskID:   ti.TaskID,
			Message:  msg,
		})
	}
	return diags, nil
}

func (c *Client) logTail(ctx context.Context, runID string, ti taskInstance) string {
	try := ti.TryNumber
	if try < 1 {
		try = 1
	}
	path := c.runPath(runID) + "/taskInstances/" + url.PathEscape(ti.TaskID) + "/logs/" + strconv.Itoa(try)
	body, err := c.text(ctx, "airflow.taskLog", path, url.Values{"full_content": {"true"}})
	if err != nil {
		c.logger.Debug("Task log unavailable", "runId", runID, "taskId", ti.TaskID, "error", err)
		return ""
	}
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) > c.cfg.LogTailLines {
		lines = lines[len(lines)-c.cfg.LogTailLines:]
	}
	return strings.Join(lines, "\n")
}

var (
	_ dag.Trigger      = (*Client)(nil)
	_ dag.StatusPoller = (*Client)(nil)
	_ dag.RunAborter   = (*Client)(nil)
	_ dag.RunInspector = (*Client)(nil)
)
