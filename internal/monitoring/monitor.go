// Package monitoring is a passive observer of bus dispatches. It never feeds
// back into delivery.
package monitoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/eventcore/internal/core/clock"
)

// sampleWindow is how many recent durations feed the rolling average.
const sampleWindow = 100

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Thresholds turn metrics into health issues.
type Thresholds struct {
	MinSuccessRate    float64       `json:"min_success_rate"`
	MinRateSamples    int64         `json:"min_rate_samples"`
	MaxAvgLatency     time.Duration `json:"max_avg_latency"`
	MinLatencySamples int           `json:"min_latency_samples"`
	MaxDeadLetters    int           `json:"max_dead_letters"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRate:    0.95,
		MinRateSamples:    10,
		MaxAvgLatency:     5 * time.Second,
		MinLatencySamples: 5,
		MaxDeadLetters:    100,
	}
}

// EventTypeMetrics is the accumulated view of one event type.
type EventTypeMetrics struct {
	EventType       string    `json:"event_type"`
	Count           int64     `json:"count"`
	Errors          int64     `json:"errors"`
	SuccessRate     float64   `json:"success_rate"`
	AvgProcessingMs float64   `json:"avg_processing_ms"`
	Samples         int       `json:"samples"`
	LastSeen        time.Time `json:"last_seen"`
}

// HealthReport lists every threshold currently breached.
type HealthReport struct {
	Status Status   `json:"status"`
	Issues []string `json:"issues"`
}

type typeStats struct {
	count    int64
	errors   int64
	window   [sampleWindow]time.Duration
	samples  int
	next     int
	sum      time.Duration
	lastSeen time.Time
}

func (s *typeStats) observe(d time.Duration) {
	if s.samples == sampleWindow {
		s.sum -= s.window[s.next]
	} else {
		s.samples++
	}
	s.window[s.next] = d
	s.sum += d
	s.next = (s.next + 1) % sampleWindow
}

func (s *typeStats) snapshot(eventType string) EventTypeMetrics {
	m := EventTypeMetrics{
		EventType:   eventType,
		Count:       s.count,
		Errors:      s.errors,
		SuccessRate: 1,
		Samples:     s.samples,
		LastSeen:    s.lastSeen,
	}
	if s.count > 0 {
		m.SuccessRate = float64(s.count-s.errors) / float64(s.count)
	}
	if s.samples > 0 {
		m.AvgProcessingMs = float64(s.sum) / float64(s.samples) / float64(time.Millisecond)
	}
	return m
}

// Monitor accumulates per-event-type counts, errors and a rolling average of
// processing time. Safe for concurrent use.
type Monitor struct {
	thresholds Thresholds
	clock      clock.Source

	mu    sync.RWMutex
	types map[string]*typeStats
}

type Option func(*Monitor)

func WithClock(src clock.Source) Option {
	return func(m *Monitor) { m.clock = src }
}

func NewMonitor(thresholds Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds: thresholds,
		clock:      clock.Default,
		types:      make(map[string]*typeStats),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RecordDispatch is the bus hook; err marks the attempt as failed.
func (m *Monitor) RecordDispatch(eventType string, duration time.Duration, err error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.types[eventType]
	if !ok {
		s = &typeStats{}
		m.types[eventType] = s
	}
	s.count++
	if err != nil {
		s.errors++
	}
	s.observe(duration)
	s.lastSeen = now
}

// EventTypeMetrics returns every event type's metrics sorted by name.
func (m *Monitor) EventTypeMetrics() []EventTypeMetrics {
	m.mu.RLock()
	out := make([]EventTypeMetrics, 0, len(m.types))
	for name, s := range m.types {
		out = append(out, s.snapshot(name))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

func (m *Monitor) Get(eventType string) (EventTypeMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.types[eventType]
	if !ok {
		return EventTypeMetrics{}, false
	}
	return s.snapshot(eventType), true
}

// TotalEvents is the number of recorded dispatch attempts.
func (m *Monitor) TotalEvents() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, s := range m.types {
		total += s.count
	}
	return total
}

func (m *Monitor) TopByVolume(n int) []EventTypeMetrics {
	return m.top(n, func(a, b EventTypeMetrics) bool { return a.Count > b.Count })
}

func (m *Monitor) TopByLatency(n int) []EventTypeMetrics {
	return m.top(n, func(a, b EventTypeMetrics) bool { return a.AvgProcessingMs > b.AvgProcessingMs })
}

func (m *Monitor) top(n int, less func(a, b EventTypeMetrics) bool) []EventTypeMetrics {
	all := m.EventTypeMetrics()
	sort.SliceStable(all, func(i, j int) bool { return less(all[i], all[j]) })
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// Health derives a verdict from the thresholds: no issues is healthy, one or
// two is a warning, three or more is critical.
func (m *Monitor) Health(deadLetters int) HealthReport {
	t := m.thresholds
	issues := []string{}

	for _, et := range m.EventTypeMetrics() {
		if et.Count >= t.MinRateSamples && et.SuccessRate < t.MinSuccessRate {
			issues = append(issues, fmt.Sprintf("%s: success rate %.1f%% below %.1f%%",
				et.EventType, et.SuccessRate*100, t.MinSuccessRate*100))
		}
		maxMs := float64(t.MaxAvgLatency) / float64(time.Millisecond)
		if et.Samples >= t.MinLatencySamples && et.AvgProcessingMs > maxMs {
			issues = append(issues, fmt.Sprintf("%s: average processing time %.0fms above %.0fms",
				et.EventType, et.AvgProcessingMs, maxMs))
		}
	}
	if deadLetters > t.MaxDeadLetters {
		issues = append(issues, fmt.Sprintf("dead-letter queue holds %d events (max %d)", deadLetters, t.MaxDeadLetters))
	}

	status := StatusHealthy
	switch {
	case len(issues) >= 3:
		status = StatusCritical
	case len(issues) > 0:
		status = StatusWarning
	}
	return HealthReport{Status: status, Issues: issues}
}

// Reset drops all accumulated metrics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = make(map[string]*typeStats)
}
