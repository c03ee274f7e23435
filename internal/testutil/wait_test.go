package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"dagpilot/pkg/cloudevent"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	ok := WaitFor(t, func() bool { return n.Add(1) >= 3 }, WithInterval(time.Millisecond))
	if !ok {
		t.Fatal("expected condition to be met")
	}

	if WaitFor(t, func() bool { return false }, WithTimeout(20*time.Millisecond)) {
		t.Error("expected timeout")
	}
}

func TestWaitForFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candidate.py")
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, []byte("x = 1\n"), 0o644)
	}()

	if got := string(WaitForFile(t, path)); got != "x = 1\n" {
		t.Errorf("unexpected content %q", got)
	}
}

func post(t *testing.T, url string, body []byte, sig string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(cloudevent.SignatureHeader, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestEventSink(t *testing.T) {
	t.Parallel()

	sink := NewEventSink(t, "")
	sink.RespondWith(http.StatusServiceUnavailable)

	body, _ := json.Marshal(cloudevent.New("t", "s", "", "1", map[string]any{}))
	if got := post(t, sink.URL(), body, ""); got != http.StatusServiceUnavailable {
		t.Errorf("expected scripted 503, got %d", got)
	}
	if got := post(t, sink.URL(), body, ""); got != http.StatusNoContent {
		t.Errorf("expected 204, got %d", got)
	}
	if sink.Requests() != 2 || len(sink.Events()) != 1 {
		t.Errorf("unexpected counts: requests=%d events=%d", sink.Requests(), len(sink.Events()))
	}
}

func TestEventSink_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	sink := NewEventSink(t, "secret")
	body, _ := json.Marshal(cloudevent.New("t", "s", "", "1", map[string]any{}))
	if got := post(t, sink.URL(), body, "sha256=00"); got != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", got)
	}
	if len(sink.Events()) != 0 {
		t.Error("rejected events must not be recorded")
	}
}
