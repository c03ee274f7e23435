package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Command runs an external program as the Generator. The request is written
// as JSON on stdin; the DAG file content is read from stdout.
type Command struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand creates a command generator.
func NewCommand(argv []string, timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Command{
		argv:    argv,
		timeout: timeout,
		logger:  slog.With("component", "generator", "mode", "command"),
	}
}

// Generate runs the program once.
func (c *Command) Generate(ctx context.Context, req Request) ([]byte, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, generationError("generator.command", fmt.Errorf("marshal request: %w", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, c.argv[0], c.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		if runCtx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return nil, generationError("generator.command", err)
	}
	if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		return nil, generationError("generator.command", errors.New("program produced no content"))
	}

	c.logger.Info("Generated content",
		"attempt", req.Attempt,
		"bytes", stdout.Len(),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return stdout.Bytes(), nil
}

var _ Generator = (*Command)(nil)
