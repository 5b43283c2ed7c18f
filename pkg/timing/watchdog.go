package timing

import (
	"fmt"
	"sync"
	"time"

	"github.com/praxis-works/covenant/pkg/constitution"
)

// ComponentState tracks one monitored subsystem.
type ComponentState struct {
	Component     string    `json:"component"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Alive         bool      `json:"alive"`
}

// Watchdog monitors subsystem heartbeats. A component that misses the
// constitutional watchdog interval is marked dead; dead components are
// grounds for a halt.
type Watchdog struct {
	mu         sync.Mutex
	interval   time.Duration
	components map[string]*ComponentState
	clock      func() time.Time
}

// NewWatchdog builds a watchdog from the watchdog_interval_ms contract.
func NewWatchdog(c *constitution.Constitution) (*Watchdog, error) {
	intervalMs, err := c.Timing("watchdog_interval_ms")
	if err != nil {
		return nil, fmt.Errorf("watchdog: %w", err)
	}
	return &Watchdog{
		interval:   time.Duration(intervalMs * float64(time.Millisecond)),
		components: make(map[string]*ComponentState),
		clock:      time.Now,
	}, nil
}

// WithClock overrides the time source. Intended for tests.
func (w *Watchdog) WithClock(clock func() time.Time) *Watchdog {
	w.clock = clock
	return w
}

// Register starts monitoring a component, treating registration as its
// first heartbeat.
func (w *Watchdog) Register(component string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.components[component] = &ComponentState{
		Component:     component,
		LastHeartbeat: w.clock(),
		Alive:         true,
	}
}

// Heartbeat records a check-in from a registered component.
func (w *Watchdog) Heartbeat(component string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.components[component]
	if !ok {
		return fmt.Errorf("unknown component: %s", component)
	}
	state.LastHeartbeat = w.clock()
	state.Alive = true
	return nil
}

// Check marks components whose last heartbeat is older than the interval
// as dead and returns their names.
func (w *Watchdog) Check() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	var dead []string
	for name, state := range w.components {
		if now.Sub(state.LastHeartbeat) > w.interval {
			state.Alive = false
			dead = append(dead, name)
		}
	}
	return dead
}

// AllAlive reports whether every monitored component is alive.
func (w *Watchdog) AllAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, state := range w.components {
		if !state.Alive {
			return false
		}
	}
	return true
}

// States returns a snapshot of every monitored component.
func (w *Watchdog) States() map[string]ComponentState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]ComponentState, len(w.components))
	for name, state := range w.components {
		out[name] = *state
	}
	return out
}

// Interval returns the configured heartbeat deadline.
func (w *Watchdog) Interval() time.Duration {
	return w.interval
}
