package metrics

import (
	"sort"
	"sync"
	"time"
)

// Memory keeps every measurement in maps keyed by full name, including the
// by_type copies. Tests read it back with Count, Timings and Gauge.
type Memory struct {
	mu      sync.Mutex
	counts  map[string]int64
	timings map[string][]time.Duration
	gauges  map[string]float64
}

func NewMemory() *Memory {
	return &Memory{
		counts:  make(map[string]int64),
		timings: make(map[string][]time.Duration),
		gauges:  make(map[string]float64),
	}
}

func (m *Memory) Inc(name, typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names(name, typ) {
		m.counts[n]++
	}
}

func (m *Memory) Timing(name, typ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names(name, typ) {
		m.timings[n] = append(m.timings[n], d)
	}
}

func (m *Memory) Value(name, typ string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names(name, typ) {
		m.gauges[n] = v
	}
}

// Count returns the counter value for a full name.
func (m *Memory) Count(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// Timings returns a copy of the durations recorded under a full name.
func (m *Memory) Timings(name string) []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timings[name]...)
}

// Gauge returns the last value set under a full name.
func (m *Memory) Gauge(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[name]
	return v, ok
}

// Names lists every name that has been recorded, sorted.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for n := range m.counts {
		seen[n] = true
	}
	for n := range m.timings {
		seen[n] = true
	}
	for n := range m.gauges {
		seen[n] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func names(name, typ string) []string {
	if typ == "" {
		return []string{name}
	}
	return []string{name, ByType(name, typ)}
}
