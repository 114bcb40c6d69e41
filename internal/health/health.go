// Package health tracks the readiness of the daemon's components and
// condenses them into the /health response.
package health

import (
	"sync"
	"time"
)

// Overall status values, worst component wins.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the aggregate health report served to clients.
type Status struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check is the state of one component. Critical components take the
// whole daemon to unhealthy when they fail; others only degrade it.
type Check struct {
	Healthy    bool      `json:"healthy"`
	Critical   bool      `json:"critical"`
	Message    string    `json:"message,omitempty"`
	LastCheck  time.Time `json:"last_check"`
	LastChange time.Time `json:"last_change"`
}

// Checker aggregates component states
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	critical   map[string]bool
}

// NewChecker creates a health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		critical:   make(map[string]bool),
	}
}

// MarkCritical registers a component whose failure makes the whole
// daemon unhealthy rather than merely degraded.
func (c *Checker) MarkCritical(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.critical[name] = true
}

// SetComponent records a component's current state. LastChange only
// moves when the healthy flag actually flips.
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	prev, seen := c.components[name]

	change := now
	if seen && prev.Healthy == healthy {
		change = prev.LastChange
	}

	c.components[name] = Check{
		Healthy:    healthy,
		Critical:   c.critical[name],
		Message:    message,
		LastCheck:  now,
		LastChange: change,
	}
}

// ComponentHealthy reports the health of one component. Unknown
// components are unhealthy.
func (c *Checker) ComponentHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	check, ok := c.components[name]
	return ok && check.Healthy
}

// GetStatus condenses the components into one report. A failed
// critical component yields "unhealthy"; any other failure yields
// "degraded".
func (c *Checker) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusOK
	components := make(map[string]Check, len(c.components))
	for name, check := range c.components {
		components[name] = check
		if check.Healthy {
			continue
		}
		if check.Critical {
			overall = StatusUnhealthy
		} else if overall == StatusOK {
			overall = StatusDegraded
		}
	}

	return Status{
		Status:        overall,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy reports whether every component is healthy
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, check := range c.components {
		if !check.Healthy {
			return false
		}
	}
	return true
}
