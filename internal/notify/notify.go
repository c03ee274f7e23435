// Package notify delivers lifecycle events to an external webhook without
// blocking the controller.
package notify

import (
	"context"
	"errors"

	"dagpilot/pkg/cloudevent"
)

// ErrBufferFull is returned when the notifier's buffer is full and the event is dropped.
var ErrBufferFull = errors.New("notifier buffer full, event dropped")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier is closed")

// Notifier handles async delivery of lifecycle events.
type Notifier interface {
	// Notify queues an event for async delivery. Non-blocking.
	// Returns ErrBufferFull if the event cannot be queued.
	Notify(event *cloudevent.CloudEvent) error

	// Stats returns current notifier statistics.
	Stats() Stats

	// Close gracefully shuts down, attempting to deliver queued events.
	// The context deadline controls how long to wait for drain.
	Close(ctx context.Context) error
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth   int    `json:"queueDepth"`   // current queue size
	Queued       int64  `json:"queued"`       // total events queued
	Delivered    int64  `json:"delivered"`    // successful deliveries
	Failed       int64  `json:"failed"`       // failed after retries
	Dropped      int64  `json:"dropped"`      // dropped due to full buffer or open circuit
	RetriesTotal int64  `json:"retriesTotal"` // total retry attempts
	Breaker      string `json:"breaker"`      // webhook circuit state
}

// Nop discards every event. It is used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(*cloudevent.CloudEvent) error { return nil }
func (Nop) Stats() Stats                        { return Stats{Breaker: "closed"} }
func (Nop) Close(context.Context) error         { return nil }

var _ Notifier = Nop{}
