package metrics

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus summarises the component registry for the health endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Component is the last reported state of one part of the runner. Since is
// when Healthy last flipped, so a flapping source shows up as a young Since.
type Component struct {
	Name    string
	Healthy bool
	Message string
	Since   time.Time
	Updated time.Time
}

// Registry holds component health for one process
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
	critical   []string
	started    time.Time
	version    string
	now        func() time.Time
}

// DefaultCritical are the components a runner must have healthy to be ready
var DefaultCritical = []string{"source", "orchestrator", "store"}

var registry = NewRegistry(DefaultCritical...)

// NewRegistry creates an empty registry that waits on critical for readiness
func NewRegistry(critical ...string) *Registry {
	return &Registry{
		components: make(map[string]Component),
		critical:   append([]string(nil), critical...),
		started:    time.Now(),
		now:        time.Now,
	}
}

// Set records the state of a component
func (r *Registry) Set(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	prev, ok := r.components[name]
	since := now
	if ok && prev.Healthy == healthy {
		since = prev.Since
	}
	r.components[name] = Component{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Since:   since,
		Updated: now,
	}

	up := 0.0
	if healthy {
		up = 1
	}
	ComponentUp.WithLabelValues(name).Set(up)
}

// Get returns the recorded state of one component
func (r *Registry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Health reports every registered component. Any unhealthy component makes
// the status "unhealthy".
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  r.now(),
		Components: make(map[string]string, len(r.components)),
		Version:    r.version,
		Uptime:     r.now().Sub(r.started).Round(time.Second).String(),
	}
	for name, c := range r.components {
		if c.Healthy {
			status.Components[name] = "healthy"
			continue
		}
		status.Status = "unhealthy"
		status.Components[name] = "unhealthy: " + c.Message
	}
	return status
}

// Readiness reports only the critical components. The message names the
// first one, in order, that is missing or unhealthy.
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthStatus{
		Status:     "ready",
		Timestamp:  r.now(),
		Components: make(map[string]string, len(r.critical)),
		Version:    r.version,
		Uptime:     r.now().Sub(r.started).Round(time.Second).String(),
	}
	for _, name := range r.critical {
		c, ok := r.components[name]
		switch {
		case !ok:
			status.Components[name] = "not registered"
		case !c.Healthy:
			status.Components[name] = "not ready: " + c.Message
		default:
			status.Components[name] = "ready"
			continue
		}
		if status.Status == "ready" {
			status.Status = "not_ready"
			status.Message = "waiting for " + name
		}
	}
	return status
}

// Names lists registered components in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// SetCriticalComponents replaces the set of components readiness waits for
func SetCriticalComponents(names ...string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.critical = append([]string(nil), names...)
}

// RegisterComponent records the initial state of a component
func RegisterComponent(name string, healthy bool, message string) {
	registry.Set(name, healthy, message)
}

// UpdateComponent records a state change of a component
func UpdateComponent(name string, healthy bool, message string) {
	registry.Set(name, healthy, message)
}

// GetHealth reports every component in the process registry
func GetHealth() HealthStatus {
	return registry.Health()
}

// GetReadiness reports the critical components in the process registry
func GetReadiness() HealthStatus {
	return registry.Readiness()
}
