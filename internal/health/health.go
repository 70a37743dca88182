// Package health reports whether a scanning session is alive and serving.
//
// Components register checks; /healthz answers as long as the process is
// up, /readyz runs every check and fails when a critical one does.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ns"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

type component struct {
	critical bool
	check    Check
	timeout  time.Duration
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Register adds a check. A failing critical check makes the whole session
// unhealthy; a failing optional one only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{critical: critical, check: check, timeout: DefaultTimeout}
	c.results[name] = CheckResult{Status: StatusUnknown}
}

// SetReady sets the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs all registered checks concurrently and returns their results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make(map[string]component, len(c.components))
	for name, comp := range c.components {
		components[name] = comp
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(components))
		g       errgroup.Group
	)
	for name, comp := range components {
		name, comp := name, comp
		g.Go(func() error {
			res := run(ctx, comp)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for name, res := range results {
		if _, ok := c.components[name]; ok {
			c.results[name] = res
		}
	}
	c.mu.Unlock()
	return results
}

func run(ctx context.Context, comp component) (result CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.check(ctx)
	}()

	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// OverallStatus aggregates the last results.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for name, res := range c.results {
		comp := c.components[name]
		switch res.Status {
		case StatusUnhealthy:
			if comp.critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		case StatusUnknown:
			if comp.critical && status == StatusHealthy {
				status = StatusUnknown
			}
		}
	}
	return status
}

// Response is the body served by the readiness endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.components))
	for name := range c.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LivenessHandler answers 200 while the process is up.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now()})
	})
}

// ReadinessHandler runs every check and answers 503 until the session is
// ready or while a critical check fails.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		components := c.Check(r.Context())

		c.mu.RLock()
		resp := Response{Ready: c.ready, Uptime: time.Since(c.startTime).Round(time.Second).String(), Components: components, Timestamp: time.Now()}
		c.mu.RUnlock()
		resp.Status = c.OverallStatus()

		code := http.StatusOK
		if !resp.Ready || resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// Mount registers /healthz and /readyz on mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.Handle("/healthz", c.LivenessHandler())
	mux.Handle("/readyz", c.ReadinessHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// PingCheck reports a dependency healthy while ping succeeds.
func PingCheck(what string, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: what + " unreachable", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: what + " ok"}
	}
}

// StateCheck reports healthy while ok returns true.
func StateCheck(healthy, unhealthy string, ok func() bool) Check {
	return func(ctx context.Context) CheckResult {
		if ok() {
			return CheckResult{Status: StatusHealthy, Message: healthy}
		}
		return CheckResult{Status: StatusUnhealthy, Message: unhealthy}
	}
}
