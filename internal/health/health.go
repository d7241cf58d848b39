// Package health tracks the readiness of the pieces a hardware codec
// session depends on: the capability snapshot, the ffmpeg sidecar and
// display enumeration.
package health

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/breeze-rmm/vramcodec/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	default:
		return false
	}
}

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Probe evaluates one component.
type Probe struct {
	Name string
	Fn   func(ctx context.Context) (Status, string)
}

// Monitor tracks health checks for multiple components.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// Update records the status for a named component. Invalid statuses are
// stored as Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}

	m.mu.Lock()
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: m.now(),
	}
	m.mu.Unlock()

	if status != Healthy {
		log.Warn("health check degraded", "check", name, "status", string(status), "message", message)
	}
}

// Run evaluates every probe in order and records the results.
func (m *Monitor) Run(ctx context.Context, probes ...Probe) Status {
	for _, p := range probes {
		if err := ctx.Err(); err != nil {
			m.Update(p.Name, Unknown, err.Error())
			continue
		}
		status, msg := p.Fn(ctx)
		m.Update(p.Name, status, msg)
	}
	return m.Overall()
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown if none
// have been recorded.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if statusRank(c.Status) > statusRank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns the checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b Check) int { return strings.Compare(a.Name, b.Name) })
	return result
}

// Summary returns the overall status and per-component statuses, taken
// under one lock.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}

// Unknown ranks worst: a component nobody could evaluate is not safe to use.
func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}
