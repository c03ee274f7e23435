// Package artifact persists generated DAG files where the scheduler scans
// for them.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dagpilot/internal/apperrors"
	"dagpilot/internal/dag"

	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
)

// Store writes artifacts below a scheduler definitions directory.
//
// Each save replaces the file at a deterministic path with a temp-file and
// rename, so a concurrent rescan sees either the previous version or the
// new one, never a partial write.
type Store struct {
	dir    string
	perm   os.FileMode
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		perm:   0o644,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.With("component", "artifact"),
	}
}

// Dir returns the definitions directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save persists content at target (relative to the store directory) and
// returns a fresh immutable Artifact. I/O failures wrap apperrors.ErrWrite.
func (s *Store) Save(ctx context.Context, content []byte, target string, attempt int) (*dag.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, apperrors.Validation("content", "artifact content is empty")
	}
	if err := validatePath(target); err != nil {
		return nil, apperrors.Validation("target", fmt.Sprintf("invalid target path: %v", err))
	}

	path := filepath.Join(s.dir, target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrWrite, "artifact.mkdir", err)
	}
	if err := atomicwriter.WriteFile(path, content, s.perm); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrWrite, "artifact.save", err)
	}

	a := &dag.Artifact{
		ID:        s.newID(),
		Content:   append([]byte(nil), content...),
		Path:      path,
		CreatedAt: s.now(),
		Attempt:   attempt,
	}
	s.logger.Debug("Saved artifact", "artifactId", a.ID, "path", path, "bytes", len(content), "attempt", attempt)
	return a, nil
}

// Load reads the current content at target. A missing file returns
// apperrors.ErrNotFound.
func (s *Store) Load(target string) ([]byte, error) {
	if err := validatePath(target); err != nil {
		return nil, apperrors.Validation("target", fmt.Sprintf("invalid target path: %v", err))
	}
	data, err := os.ReadFile(filepath.Join(s.dir, target))
	if os.IsNotExist(err) {
		return nil, apperrors.NotFound("artifact", target)
	}
	if err != nil {
		return nil, apperrors.Internal("artifact.load", err)
	}
	return data, nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative, not absolute")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed")
		}
	}
	return nil
}
