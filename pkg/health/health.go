// Package health aggregates component checks into liveness, readiness and
// full health reports served next to /metrics.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the health of one component or of the node
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse reports whether s is worse than other
func (s Status) worse(other Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[s] > rank[other]
}

// Check is the result of one component check
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
}

// CheckFunc performs one check. It must honor ctx.
type CheckFunc func(ctx context.Context) Check

// Kind selects which report a check contributes to
type Kind int

const (
	// Liveness checks run in every report
	Liveness Kind = iota
	// Readiness checks run in readiness and full reports
	Readiness
	// Informational checks run only in the full report
	Informational
)

// Response is an aggregated report
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}

type registered struct {
	kind Kind
	fn   CheckFunc
}

// Checker holds the registered checks
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]registered
	timeout time.Duration
	started time.Time
}

// NewChecker creates a checker. Each check gets at most timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  make(map[string]registered),
		timeout: timeout,
		started: time.Now(),
	}
}

// Register adds or replaces a check
func (c *Checker) Register(name string, kind Kind, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{kind: kind, fn: fn}
}

// Names lists registered checks, sorted
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Liveness runs liveness checks
func (c *Checker) Liveness(ctx context.Context) Response { return c.run(ctx, Liveness) }

// Readiness runs liveness and readiness checks
func (c *Checker) Readiness(ctx context.Context) Response { return c.run(ctx, Readiness) }

// Full runs every check
func (c *Checker) Full(ctx context.Context) Response { return c.run(ctx, Informational) }

// run executes every check whose kind is at most upTo, concurrently
func (c *Checker) run(ctx context.Context, upTo Kind) Response {
	c.mu.RLock()
	selected := make(map[string]CheckFunc)
	for name, r := range c.checks {
		if r.kind <= upTo {
			selected[name] = r.fn
		}
	}
	c.mu.RUnlock()

	resp := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(selected)),
		Uptime:    time.Since(c.started).Seconds(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, fn := range selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := c.runOne(ctx, name, fn)

			mu.Lock()
			defer mu.Unlock()
			resp.Checks[name] = check
			if check.Status.worse(resp.Status) {
				resp.Status = check.Status
			}
		}()
	}
	wg.Wait()
	return resp
}

func (c *Checker) runOne(ctx context.Context, name string, fn CheckFunc) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Check, 1)
	go func() { done <- fn(ctx) }()

	var check Check
	select {
	case check = <-done:
	case <-ctx.Done():
		check = Check{Status: StatusUnhealthy, Message: "check timed out"}
	}
	check.Name = name
	check.LastChecked = start
	check.Duration = time.Since(start)
	if check.Status == "" {
		check.Status = StatusHealthy
	}
	return check
}
