package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/sys/atomicwriter"
)

const (
	requestFile   = "request.json"
	candidateFile = "candidate.py"
	debounceDelay = 200 * time.Millisecond
)

// Inbox hands generation to an out-of-process author. It publishes the
// request as <dir>/request.json and waits for <dir>/candidate.py to appear.
// The candidate is consumed (removed) once read.
type Inbox struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewInbox creates an inbox generator rooted at dir.
func NewInbox(dir string, timeout time.Duration) *Inbox {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Inbox{
		dir:     dir,
		timeout: timeout,
		logger:  slog.With("component", "generator", "mode", "inbox", "dir", dir),
	}
}

// RequestPath is where the pending request is published.
func (i *Inbox) RequestPath() string { return filepath.Join(i.dir, requestFile) }

// CandidatePath is where the author drops the generated file.
func (i *Inbox) CandidatePath() string { return filepath.Join(i.dir, candidateFile) }

// Generate publishes req and blocks until a candidate arrives, the timeout
// elapses, or ctx is done.
func (i *Inbox) Generate(ctx context.Context, req Request) ([]byte, error) {
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return nil, generationError("generator.inbox", err)
	}
	// A leftover candidate belongs to an earlier request.
	if err := os.Remove(i.CandidatePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, generationError("generator.inbox", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, generationError("generator.inbox", fmt.Errorf("create watcher: %w", err))
	}
	defer w.Close()
	if err := w.Add(i.dir); err != nil {
		return nil, generationError("generator.inbox", fmt.Errorf("watch %q: %w", i.dir, err))
	}

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, generationError("generator.inbox", err)
	}
	if err := atomicwriter.WriteFile(i.RequestPath(), data, 0o644); err != nil {
		return nil, generationError("generator.inbox", err)
	}
	i.logger.Info("Waiting for candidate", "attempt", req.Attempt, "request", i.RequestPath(), "candidate", i.CandidatePath())

	waitCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	// Writers may create the file and fill it in several writes; read it
	// once events have been quiet for debounceDelay.
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil, generationError("generator.inbox", errors.New("watcher closed"))
			}
			if filepath.Base(ev.Name) != candidateFile || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(debounceDelay)

		case <-debounce.C:
			content, err := i.consume()
			if err != nil {
				return nil, err
			}
			if content == nil {
				continue
			}
			return content, nil

		case err, ok := <-w.Errors:
			if ok && err != nil {
				i.logger.Warn("Inbox watcher error", "error", err)
			}

		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, generationError("generator.inbox", fmt.Errorf("no candidate within %s", i.timeout))
		}
	}
}

// consume reads and removes the candidate. An empty candidate is treated as
// still being written and returns nil content.
func (i *Inbox) consume() ([]byte, error) {
	content, err := os.ReadFile(i.CandidatePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, generationError("generator.inbox", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}
	if err := os.Remove(i.CandidatePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, generationError("generator.inbox", err)
	}
	return content, nil
}

var _ Generator = (*Inbox)(nil)
