package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"dagpilot/pkg/backoff"
	"dagpilot/pkg/circuitbreaker"
	"dagpilot/pkg/cloudevent"
)

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordEventDelivered(ctx context.Context)
	RecordEventFailed(ctx context.Context)
	RecordEventDropped(ctx context.Context)
}

// Webhook is an async CloudEvents notifier. Events are queued in a bounded
// channel and delivered in order by a single worker. If the buffer is full
// or the circuit is open, events are dropped (logged + metric incremented).
type Webhook struct {
	queue   chan *cloudevent.CloudEvent
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	policy  backoff.Policy
	config  WebhookConfig
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New returns a Webhook notifier, or Nop when no URL is configured.
func New(cfg WebhookConfig, metrics MetricsRecorder) Notifier {
	if cfg.URL == "" {
		return Nop{}
	}
	return NewWebhook(cfg, metrics)
}

// NewWebhook creates a webhook notifier and starts its worker.
func NewWebhook(cfg WebhookConfig, metrics MetricsRecorder) *Webhook {
	cfg = cfg.withDefaults()

	w := &Webhook{
		queue:  make(chan *cloudevent.CloudEvent, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		policy: backoff.Policy{
			Config:     backoff.Config{Initial: defaultInitialBackoff, Max: defaultMaxBackoff},
			MaxRetries: defaultMaxRetries,
		},
		config:   cfg,
		logger:   slog.With("component", "notifier"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.worker()

	w.logger.Info("Notifier started", "destination", extractHost(cfg.URL), "buffer", cfg.BufferSize)
	return w
}

// Notify queues an event for async delivery.
func (w *Webhook) Notify(event *cloudevent.CloudEvent) error {
	if w.closed.Load() {
		return ErrClosed
	}

	select {
	case w.queue <- event:
		w.queued.Add(1)
		return nil
	default:
		w.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current notifier statistics.
func (w *Webhook) Stats() Stats {
	return Stats{
		QueueDepth:   len(w.queue),
		Queued:       w.queued.Load(),
		Delivered:    w.delivered.Load(),
		Failed:       w.failed.Load(),
		Dropped:      w.dropped.Load(),
		RetriesTotal: w.retriesTotal.Load(),
		Breaker:      w.breaker.State().String(),
	}
}

// Close gracefully shuts down the notifier.
func (w *Webhook) Close(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil // already closed
	}

	w.logger.Info("Notifier shutting down", "queued", len(w.queue))
	close(w.shutdown)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Notifier shutdown complete",
			"delivered", w.delivered.Load(),
			"failed", w.failed.Load(),
			"dropped", w.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Notifier shutdown timed out", "remaining", len(w.queue))
		return ctx.Err()
	}
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.shutdown:
			w.drainQueue()
			return
		case event := <-w.queue:
			w.deliver(event)
		}
	}
}

func (w *Webhook) drainQueue() {
	for {
		select {
		case event := <-w.queue:
			w.deliver(event)
		default:
			return
		}
	}
}

func (w *Webhook) deliver(event *cloudevent.CloudEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := w.breaker.Do(func() error {
		return w.sendWithRetry(ctx, event)
	}, func(err error) bool {
		return !cloudevent.IsClientError(err)
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		w.drop(event, "circuit open")
	case err != nil:
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordEventFailed(ctx)
		}
		w.logger.Warn("Delivery failed", "destination", extractHost(w.config.URL), "type", event.Type, "error", err)
	default:
		w.delivered.Add(1)
		if w.metrics != nil {
			w.metrics.RecordEventDelivered(ctx)
		}
	}
}

func (w *Webhook) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	opts := cloudevent.SendOptions{SigningKey: w.config.SigningKey}
	retryable := func(err error) bool { return !cloudevent.IsClientError(err) }
	onRetry := func(int, error, time.Duration) { w.retriesTotal.Add(1) }

	_, err := backoff.Retry(ctx, w.policy, retryable, onRetry, func(ctx context.Context) error {
		err := w.sender.Send(ctx, w.config.URL, event, opts)
		var he *cloudevent.HTTPError
		if errors.As(err, &he) && he.RetryAfter > 0 {
			// Honor the receiver's rate limit, bounded by the backoff cap.
			_ = backoff.Sleep(ctx, min(he.RetryAfter, w.policy.Max))
		}
		return err
	})
	return err
}

func (w *Webhook) drop(event *cloudevent.CloudEvent, reason string) {
	w.dropped.Add(1)
	if w.metrics != nil {
		w.metrics.RecordEventDropped(context.Background())
	}
	w.logger.Warn("Event dropped", "reason", reason, "type", event.Type, "subject", event.Subject)
}

// extractHost extracts the host from a URL for logging.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Notifier = (*Webhook)(nil)
