package airflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/dag"
	"dagpilot/pkg/backoff"
)

// Validate waits until the scheduler has parsed the artifact and returns the
// resulting diagnostics. Import errors for the artifact's file are errors;
// DAG warnings are warnings. When no definitive result appears within
// ValidationTimeout it returns ErrValidationTimeout.
func (c *Client) Validate(ctx context.Context, a *dag.Artifact) (dag.DiagnosticSet, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ValidationTimeout)
	defer cancel()

	since := a.CreatedAt.Add(-c.cfg.ClockSkew)
	polls := 0
	for {
		polls++
		diags, done, err := c.checkParsed(waitCtx, a, since)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if done {
			c.logger.Info("Validation result",
				"artifactId", a.ID,
				"polls", polls,
				"errors", len(diags.Errors()),
				"warnings", len(diags.Warnings()),
			)
			return diags, nil
		}

		if err := backoff.Sleep(waitCtx, c.cfg.ValidationPollInterval); err != nil || waitCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.Wrap(apperrors.ErrValidationTimeout, "airflow.validate",
				fmt.Errorf("no parse result for %s after %s (%d polls)", filepath.Base(a.Path), c.cfg.ValidationTimeout, polls))
		}
	}
}

// checkParsed performs one round of validation queries. done reports whether
// the result is definitive.
func (c *Client) checkParsed(ctx context.Context, a *dag.Artifact, since time.Time) (dag.DiagnosticSet, bool, error) {
	importErrs, err := c.importErrors(ctx, a, since)
	if err != nil {
		return nil, false, err
	}
	if len(importErrs) > 0 {
		return importErrs, true, nil
	}

	var detail dagDetail
	err = c.do(ctx, "airflow.getDag", http.MethodGet, c.dagPath(), nil, nil, &detail)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if detail.LastParsedTime == nil || detail.LastParsedTime.Before(since) {
		return nil, false, nil
	}

	warnings, err := c.dagWarnings(ctx)
	if err != nil {
		return nil, false, err
	}
	return warnings, true, nil
}

func (c *Client) importErrors(ctx context.Context, a *dag.Artifact, since time.Time) (dag.DiagnosticSet, error) {
	var list importErrorList
	query := url.Values{"limit": {"100"}, "order_by": {"-timestamp"}}
	if err := c.do(ctx, "airflow.importErrors", http.MethodGet, "/api/v1/importErrors", query, nil, &list); err != nil {
		return nil, err
	}

	// The scheduler sees the file under its own mount, so only the base
	// name is comparable.
	want := filepath.Base(a.Path)
	var diags dag.DiagnosticSet
	for _, ie := range list.ImportErrors {
		if filepath.Base(ie.Filename) != want || ie.Timestamp.Before(since) {
			continue
		}
		diags = append(diags, dag.Diagnostic{
			Severity: dag.SeverityError,
			Stage:    dag.StageValidation,
			Message:  strings.TrimSpace(ie.StackTrace),
			Source:   ie.Filename,
		})
	}
	return diags, nil
}

func (c *Client) dagWarnings(ctx context.Context) (dag.DiagnosticSet, error) {
	var list dagWarningList
	query := url.Values{"dag_id": {c.cfg.DAGID}}
	if err := c.do(ctx, "airflow.dagWarnings", http.MethodGet, "/api/v1/dagWarnings", query, nil, &list); err != nil {
		return nil, err
	}
	var diags dag.DiagnosticSet
	for _, w := range list.DAGWarnings {
		diags = append(diags, dag.Diagnostic{
			Severity: dag.SeverityWarning,
			Stage:    dag.StageValidation,
			Message:  w.Message,
			Source:   w.WarningType,
		})
	}
	return diags, nil
}

var _ dag.Validator = (*Client)(nil)
