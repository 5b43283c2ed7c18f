package failure

import (
	"sort"
	"sync"
	"time"
)

// repeatThreshold is how many failures mark a component a repeat offender.
const repeatThreshold = 3

// HealthStatus tracks one component's runtime health.
type HealthStatus struct {
	Component    string    `json:"component"`
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	FailureCount int       `json:"failure_count"`
	LastFailure  string    `json:"last_failure,omitempty"`
}

// HealthMonitor tracks component health and routes failures through the
// matrix. Components failing repeatedly surface as repeat offenders.
type HealthMonitor struct {
	mu         sync.Mutex
	matrix     *Matrix
	components map[string]*HealthStatus
	clock      func() time.Time
}

// NewHealthMonitor wraps a failure matrix.
func NewHealthMonitor(matrix *Matrix) *HealthMonitor {
	return &HealthMonitor{
		matrix:     matrix,
		components: make(map[string]*HealthStatus),
		clock:      time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *HealthMonitor) WithClock(clock func() time.Time) *HealthMonitor {
	h.clock = clock
	return h
}

// Register starts tracking a component as healthy.
func (h *HealthMonitor) Register(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[component] = &HealthStatus{
		Component: component,
		Healthy:   true,
		LastCheck: h.clock(),
	}
}

// ReportHealthy marks a registered component healthy.
func (h *HealthMonitor) ReportHealthy(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status, ok := h.components[component]
	if !ok {
		return
	}
	status.Healthy = true
	status.LastCheck = h.clock()
}

// ReportFailure records a failure and dispatches it through the matrix.
// Unregistered components are registered on first failure.
func (h *HealthMonitor) ReportFailure(component, failureType, details string) Event {
	h.mu.Lock()
	status, ok := h.components[component]
	if !ok {
		status = &HealthStatus{Component: component}
		h.components[component] = status
	}
	status.Healthy = false
	status.FailureCount++
	status.LastFailure = failureType
	status.LastCheck = h.clock()
	h.mu.Unlock()

	return h.matrix.HandleFailure(component, failureType, details)
}

// AllHealthy reports whether every tracked component is healthy.
func (h *HealthMonitor) AllHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, status := range h.components {
		if !status.Healthy {
			return false
		}
	}
	return true
}

// Unhealthy returns the names of unhealthy components, sorted.
func (h *HealthMonitor) Unhealthy() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for name, status := range h.components {
		if !status.Healthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RepeatOffenders returns components that have failed at least three
// times, sorted.
func (h *HealthMonitor) RepeatOffenders() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for name, status := range h.components {
		if status.FailureCount >= repeatThreshold {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Statuses returns a snapshot of every tracked component.
func (h *HealthMonitor) Statuses() map[string]HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]HealthStatus, len(h.components))
	for name, status := range h.components {
		out[name] = *status
	}
	return out
}
