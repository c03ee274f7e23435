// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// ReadinessChecker is the interface for readiness checks.
// Implemented by platform clients to verify the scheduler can be reached.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker performs health checks on the scheduler dependencies.
type Checker struct {
	deps    map[string]ReadinessChecker
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker over the named dependencies,
// e.g. "docker" and "airflow".
func NewChecker(deps map[string]ReadinessChecker) *Checker {
	return &Checker{
		deps:    maps.Clone(deps),
		timeout: 5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks every dependency concurrently.
// The result is cached for a second to avoid hammering the scheduler.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := &Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(c.deps)),
	}
	if len(c.deps) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["platform"] = CheckResult{Status: StatusUnhealthy, Message: "no platform configured"}
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, name := range slices.Sorted(maps.Keys(c.deps)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.check(ctx, c.deps[name])
			mu.Lock()
			defer mu.Unlock()
			response.Checks[name] = result
			if result.Status != StatusHealthy {
				response.Status = StatusUnhealthy
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) check(ctx context.Context, dep ReadinessChecker) CheckResult {
	if dep == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := dep.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the service as shutting down.
// Readiness reports unhealthy from then on.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
