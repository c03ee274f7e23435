package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the tracer used for lifecycle stage spans. Without a
// configured provider the global no-op tracer is returned.
func Tracer() trace.Tracer {
	return otel.Tracer("dagpilot/lifecycle")
}
