package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dagpilot/pkg/cloudevent"
)

// EventSink is a webhook receiver that records CloudEvents.
type EventSink struct {
	server *httptest.Server
	key    string

	mu       sync.Mutex
	events   []cloudevent.CloudEvent
	headers  []http.Header
	statuses []int
	requests int
}

// NewEventSink starts a receiver closed at test cleanup. When key is set,
// requests with a bad signature are answered with 401.
func NewEventSink(tb testing.TB, key string) *EventSink {
	tb.Helper()
	s := &EventSink{key: key}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	tb.Cleanup(s.server.Close)
	return s
}

// RespondWith scripts the status codes of the next requests. Once the
// script is exhausted requests are answered with 204.
func (s *EventSink) RespondWith(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statuses...)
}

// URL returns the receiver URL.
func (s *EventSink) URL() string { return s.server.URL }

func (s *EventSink) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if len(s.statuses) > 0 {
		status := s.statuses[0]
		s.statuses = s.statuses[1:]
		if status >= 300 {
			w.WriteHeader(status)
			return
		}
	}
	if s.key != "" && !cloudevent.Verify(body, r.Header.Get(cloudevent.SignatureHeader), s.key) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var ev cloudevent.CloudEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.events = append(s.events, ev)
	s.headers = append(s.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

// Events returns the accepted events in arrival order.
func (s *EventSink) Events() []cloudevent.CloudEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cloudevent.CloudEvent(nil), s.events...)
}

// Header returns the headers of the i-th accepted event.
func (s *EventSink) Header(i int) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[i]
}

// Requests returns the number of requests received, accepted or not.
func (s *EventSink) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}
