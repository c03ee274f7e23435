// Package airflow talks to the Airflow 2 stable REST API. It implements
// dag.Validator, dag.Trigger, dag.StatusPoller, dag.RunAborter and
// dag.RunInspector for a single DAG.
package airflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"dagpilot/internal/apperrors"
	"dagpilot/pkg/circuitbreaker"
)

// maxErrorBody bounds how much of an error response is kept in the cause.
const maxErrorBody = 4 << 10

// Client is an Airflow REST client bound to one DAG.
type Client struct {
	http    *http.Client
	cfg     Config
	breaker *circuitbreaker.Breaker
	now     func() time.Time
	logger  *slog.Logger
}

// NewClient creates a new Airflow client.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg:     cfg,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		now:     time.Now,
		logger:  slog.With("component", "airflow", "dagId", cfg.DAGID),
	}
}

// Ready checks that the webserver answers and reports a healthy scheduler
// and metadata database.
func (c *Client) Ready(ctx context.Context) error {
	var health healthInfo
	if err := c.do(ctx, "airflow.health", http.MethodGet, "/api/v1/health", nil, nil, &health); err != nil {
		return err
	}
	if health.Metadatabase.Status != "healthy" {
		return fmt.Errorf("metadatabase %s", health.Metadatabase.Status)
	}
	if health.Scheduler.Status != "healthy" {
		return fmt.Errorf("scheduler %s", health.Scheduler.Status)
	}
	return nil
}

// do performs one API call through the circuit breaker. A non-2xx status is
// classified with apperrors.FromHTTPStatus; transport failures and an open
// circuit are reported as ErrPlatformUnavailable.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal(op, fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	err := c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return apperrors.Internal(op, fmt.Errorf("failed to create request: %w", err))
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPlatformUnavailable, op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return apperrors.FromHTTPStatus(op, resp.StatusCode, string(bytes.TrimSpace(data)))
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(apperrors.ErrPlatformUnavailable, op, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}, apperrors.IsTransient)

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperrors.Wrap(apperrors.ErrPlatformUnavailable, op, err)
	}
	return err
}

// text performs a GET returning a plain text body.
func (c *Client) text(ctx context.Context, op, path string, query url.Values) (string, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", apperrors.Internal(op, err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPlatformUnavailable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPlatformUnavailable, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.FromHTTPStatus(op, resp.StatusCode, string(bytes.TrimSpace(data)))
	}
	return string(data), nil
}

func (c *Client) dagPath() string {
	return "/api/v1/dags/" + url.PathEscape(c.cfg.DAGID)
}

func (c *Client) runPath(runID string) string {
	return c.dagPath() + "/dagRuns/" + url.PathEscape(runID)
}
