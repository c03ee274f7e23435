package api

import (
	"net/http"

	"dagpilot/internal/health"
	"dagpilot/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Session        SessionSource
	Notifier       StatsSource
	Cancel         func() // optional; stops the running session
	Metrics        *observability.Metrics
	MetricsHandler http.Handler // optional; serves /metrics
	HealthChecker  *health.Checker
	APIKey         string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Session, cfg.Notifier, cfg.HealthChecker, cfg.Cancel)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Session endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("GET /v1/session", authMiddleware(http.HandlerFunc(handler.GetSession)))
	mux.Handle("POST /v1/session/cancel", authMiddleware(http.HandlerFunc(handler.CancelSession)))
	mux.Handle("GET /v1/notifier", authMiddleware(http.HandlerFunc(handler.GetNotifier)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
