package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the lifecycle metrics. Every state transition, regeneration
// and infrastructure retry is counted so that no failure is silent.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics for the status server
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// Lifecycle metrics
	TransitionsTotal   metric.Int64Counter
	RegenerationsTotal metric.Int64Counter
	InfraRetriesTotal  metric.Int64Counter
	StageDuration      metric.Float64Histogram
	PollsTotal         metric.Int64Counter
	SessionsTotal      metric.Int64Counter
	Attempt            metric.Int64Gauge

	// Notifier metrics
	EventsDelivered metric.Int64Counter
	EventsFailed    metric.Int64Counter
	EventsDropped   metric.Int64Counter
}

// NewMetrics creates all metrics on a Prometheus exporter backed by its own
// registry, together with the handler that serves it. The registry also
// carries the Go runtime and process collectors.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("dagpilot")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("Status server request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of status server requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TransitionsTotal, err = meter.Int64Counter(
		"lifecycle_transitions_total",
		metric.WithDescription("Total number of lifecycle state transitions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RegenerationsTotal, err = meter.Int64Counter(
		"lifecycle_regenerations_total",
		metric.WithDescription("Total number of regenerations by cause (validation, test, run)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.InfraRetriesTotal, err = meter.Int64Counter(
		"lifecycle_infra_retries_total",
		metric.WithDescription("Total number of infrastructure retries by operation and error kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageDuration, err = meter.Float64Histogram(
		"lifecycle_stage_duration_seconds",
		metric.WithDescription("Time spent in each lifecycle stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollsTotal, err = meter.Int64Counter(
		"lifecycle_polls_total",
		metric.WithDescription("Total number of run status polls by observed status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SessionsTotal, err = meter.Int64Counter(
		"lifecycle_sessions_total",
		metric.WithDescription("Total number of finished sessions by result"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Attempt, err = meter.Int64Gauge(
		"lifecycle_attempt",
		metric.WithDescription("Current generation attempt of the running session"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventsDelivered, err = meter.Int64Counter(
		"notifier_delivered_total",
		metric.WithDescription("Total lifecycle events delivered to the webhook"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventsFailed, err = meter.Int64Counter(
		"notifier_failed_total",
		metric.WithDescription("Total lifecycle events that failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EventsDropped, err = meter.Int64Counter(
		"notifier_dropped_total",
		metric.WithDescription("Total lifecycle events dropped (buffer full)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records status server request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// RecordTransition records a state change and the time spent in the state
// being left.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string, attempt int, durationSeconds float64) {
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(transitionAttrs(from, to)...))
	m.StageDuration.Record(ctx, durationSeconds, metric.WithAttributes(StageAttr(from)))
	m.Attempt.Record(ctx, int64(attempt))
}

// RecordRegeneration records a content defect that sent the session back
// to generation.
func (m *Metrics) RecordRegeneration(ctx context.Context, cause string) {
	m.RegenerationsTotal.Add(ctx, 1, metric.WithAttributes(causeAttr(cause)))
}

// RecordInfraRetry records one infrastructure retry.
func (m *Metrics) RecordInfraRetry(ctx context.Context, op, kind string) {
	m.InfraRetriesTotal.Add(ctx, 1, metric.WithAttributes(opAttr(op), kindAttr(kind)))
}

// RecordPoll records one status poll.
func (m *Metrics) RecordPoll(ctx context.Context, status string) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(attributeStatus(status)))
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(ctx context.Context, result, kind string) {
	m.SessionsTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(result), kindAttr(kind)))
}

// RecordEventDelivered records a delivered lifecycle event.
func (m *Metrics) RecordEventDelivered(ctx context.Context) {
	m.EventsDelivered.Add(ctx, 1)
}

// RecordEventFailed records a lifecycle event that could not be delivered.
func (m *Metrics) RecordEventFailed(ctx context.Context) {
	m.EventsFailed.Add(ctx, 1)
}

// RecordEventDropped records a dropped lifecycle event.
func (m *Metrics) RecordEventDropped(ctx context.Context) {
	m.EventsDropped.Add(ctx, 1)
}
