// Package dockerexec drives the Airflow CLI inside the scheduler container
// through the Docker Engine exec API. It implements dag.Registry and
// dag.Tester.
package dockerexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/dag"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// execResult is the captured outcome of one exec.
type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// execFunc runs a command in the scheduler container. An error means the
// command could not be run at all; a non-zero exit is reported in the result.
type execFunc func(ctx context.Context, cmd []string) (execResult, error)

// Client runs Airflow CLI commands in the scheduler container.
type Client struct {
	docker *client.Client
	exec   execFunc
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a client for the Docker daemon configured in the
// environment (DOCKER_HOST etc.).
func NewClient(cfg Config) (*Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	c := &Client{
		docker: dockerClient,
		cfg:    cfg.withDefaults(),
		logger: slog.With("component", "dockerexec", "container", cfg.Container),
	}
	c.exec = c.dockerExec
	return c, nil
}

// Rescan asks the scheduler to re-serialize its DAG folder so a freshly
// saved file is picked up without waiting for the next periodic scan.
func (c *Client) Rescan(ctx context.Context) error {
	res, err := c.exec(ctx, []string{"airflow", "dags", "reserialize"})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRegistryUnavailable, "dockerexec.rescan", err)
	}
	if res.ExitCode != 0 {
		return apperrors.Wrap(apperrors.ErrRegistryUnavailable, "dockerexec.rescan",
			fmt.Errorf("exit code %d: %s", res.ExitCode, lastLine(res.Stderr)))
	}
	c.logger.Debug("Rescan complete")
	return nil
}

// Test runs `airflow dags test` for the artifact's DAG and classifies the
// output into diagnostics.
func (c *Client) Test(ctx context.Context, a *dag.Artifact) (dag.DiagnosticSet, error) {
	cmd := []string{"airflow", "dags", "test", c.cfg.DAGID, c.cfg.LogicalDate}
	res, err := c.exec(ctx, cmd)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPlatformUnavailable, "dockerexec.test", err)
	}

	diags := ParseTestOutput(res.Stdout+"\n"+res.Stderr, res.ExitCode)
	c.logger.Info("Trial run finished",
		"dagId", c.cfg.DAGID,
		"artifactId", a.ID,
		"exitCode", res.ExitCode,
		"errors", len(diags.Errors()),
		"warnings", len(diags.Warnings()),
	)
	return diags, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (c *Client) Close() error {
	return c.docker.Close()
}

func (c *Client) dockerExec(ctx context.Context, cmd []string) (execResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecTimeout)
	defer cancel()

	created, err := c.docker.ContainerExecCreate(ctx, c.cfg.Container, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return execResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return execResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	// The hijacked connection does not observe ctx on its own.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			attach.Close()
		case <-done:
		}
	}()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && ctx.Err() == nil {
		return execResult{}, fmt.Errorf("exec read: %w", err)
	}
	if ctx.Err() != nil {
		return execResult{}, ctx.Err()
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return execResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return execResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

var (
	_ dag.Registry = (*Client)(nil)
	_ dag.Tester   = (*Client)(nil)
)
