package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the status of optional connections, such as NATS, next to
// the delivery log. A component that is not UP makes the service FAILING.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records the status of name. The timestamp marks when the component
// entered its current state, so repeated reports of the same state keep the
// first timestamp.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	if prev, ok := m.statuses[name]; ok && prev.Status == status.Status {
		status.Timestamp = prev.Timestamp
	}
	m.statuses[name] = status
}

// ConnectionCallback returns a function reporting connection changes of
// name, suitable for natsclient.WithHealthChangeCallback.
func (m *Monitor) ConnectionCallback(name string) func(bool) {
	return func(connected bool) {
		if connected {
			m.Update(name, Up(name, "connected"))
			return
		}
		m.Update(name, Failing(name, "disconnected"))
	}
}

// Get returns the status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove stops reporting name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// All returns every status sorted by component name.
func (m *Monitor) All() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}
