// Package generator produces DAG file content. The lifecycle controller
// calls a Generator once per attempt and feeds back the diagnostics that
// made the previous attempt fail.
package generator

import (
	"context"
	"fmt"
	"strings"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/config"
	"dagpilot/internal/dag"
)

// Request is the input to one generation.
type Request struct {
	DAG             config.DAG        `json:"dag"`
	Attempt         int               `json:"attempt"`
	Diagnostics     dag.DiagnosticSet `json:"diagnostics,omitempty"`
	PreviousContent string            `json:"previousContent,omitempty"`
}

// Generator produces the content of a DAG file. Failures are fatal to the
// session and must wrap apperrors.ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, req Request) ([]byte, error)

func (f Func) Generate(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// New builds the generator selected by the service config.
func New(cfg *config.ServiceConfig) (Generator, error) {
	switch cfg.GeneratorMode {
	case "", "template":
		return NewTemplate(), nil
	case "command":
		argv := strings.Fields(cfg.GeneratorCommand)
		if len(argv) == 0 {
			return nil, apperrors.Validation("GENERATOR_COMMAND", "GENERATOR_COMMAND is required for the command generator")
		}
		return NewCommand(argv, cfg.GeneratorTimeout), nil
	case "inbox":
		return NewInbox(cfg.GeneratorInboxDir, cfg.GeneratorTimeout), nil
	default:
		return nil, apperrors.Validation("GENERATOR", fmt.Sprintf("unknown generator %q (template, command, inbox)", cfg.GeneratorMode))
	}
}

func generationError(op string, cause error) error {
	return apperrors.Wrap(apperrors.ErrGeneration, op, cause)
}
