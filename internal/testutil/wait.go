// Package testutil provides polling helpers and a recording webhook
// receiver for tests.
package testutil

import (
	"errors"
	"os"
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 5s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

func options(opts []WaitOption) WaitOptions {
	o := WaitOptions{Timeout: 5 * time.Second, Interval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls until condition returns true or the timeout is reached.
// The condition is checked once more at the deadline.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := options(opts)
	deadline := time.Now().Add(o.Timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(o.Interval)
	}
	return condition()
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// WaitForFile waits until path exists and returns its content.
func WaitForFile(tb testing.TB, path string, opts ...WaitOption) []byte {
	tb.Helper()

	var data []byte
	ok := WaitFor(tb, func() bool {
		var err error
		data, err = os.ReadFile(path)
		return err == nil || !errors.Is(err, os.ErrNotExist)
	}, opts...)
	if !ok {
		tb.Fatalf("timed out waiting for %s", path)
	}
	return data
}
