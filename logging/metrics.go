package logging

import "sync"

// Metrics accumulates named telemetry counters published alongside log
// events. The zero value is ready to use.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

// TelemetryAdd increments a counter by delta.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] += delta
	m.mu.Unlock()
}

// TelemetryStore overwrites a counter with value.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]uint64)
	}
	m.counters[key] = value
	m.mu.Unlock()
}

// TelemetryLoad reads a counter; missing keys read as zero.
func (m *Metrics) TelemetryLoad(key string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key]
}

// Snapshot copies every counter for serving or assertion.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	copied := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		copied[k] = v
	}
	return copied
}
