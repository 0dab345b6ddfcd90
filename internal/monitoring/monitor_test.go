package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/aevon-lab/eventcore/internal/core/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestMonitor_RecordDispatch(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(DefaultThresholds(), WithClock(clock.NewFixed(start, time.Second)))

	m.RecordDispatch("OrderPlaced", 10*time.Millisecond, nil)
	m.RecordDispatch("OrderPlaced", 30*time.Millisecond, errBoom)
	m.RecordDispatch("OrderShipped", 5*time.Millisecond, nil)

	got, ok := m.Get("OrderPlaced")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Count)
	assert.Equal(t, int64(1), got.Errors)
	assert.InDelta(t, 0.5, got.SuccessRate, 1e-9)
	assert.InDelta(t, 20.0, got.AvgProcessingMs, 1e-9)
	assert.Equal(t, start.Add(time.Second), got.LastSeen)

	_, ok = m.Get("Unknown")
	assert.False(t, ok)

	assert.Equal(t, int64(3), m.TotalEvents())

	all := m.EventTypeMetrics()
	require.Len(t, all, 2)
	assert.Equal(t, "OrderPlaced", all[0].EventType)
	assert.Equal(t, "OrderShipped", all[1].EventType)
}

func TestMonitor_RollingWindow(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	for i := 0; i < sampleWindow; i++ {
		m.RecordDispatch("Tick", 100*time.Millisecond, nil)
	}
	for i := 0; i < sampleWindow; i++ {
		m.RecordDispatch("Tick", 10*time.Millisecond, nil)
	}

	got, ok := m.Get("Tick")
	require.True(t, ok)
	assert.Equal(t, int64(2*sampleWindow), got.Count)
	assert.Equal(t, sampleWindow, got.Samples)
	assert.InDelta(t, 10.0, got.AvgProcessingMs, 1e-9)
}

func TestMonitor_Top(t *testing.T) {
	m := NewMonitor(DefaultThresholds())
	for i := 0; i < 3; i++ {
		m.RecordDispatch("A", time.Millisecond, nil)
	}
	m.RecordDispatch("B", 50*time.Millisecond, nil)
	for i := 0; i < 2; i++ {
		m.RecordDispatch("C", 20*time.Millisecond, nil)
	}

	volume := m.TopByVolume(2)
	require.Len(t, volume, 2)
	assert.Equal(t, "A", volume[0].EventType)
	assert.Equal(t, "C", volume[1].EventType)

	latency := m.TopByLatency(5)
	require.Len(t, latency, 3)
	assert.Equal(t, []string{"B", "C", "A"},
		[]string{latency[0].EventType, latency[1].EventType, latency[2].EventType})
}

func TestMonitor_Health(t *testing.T) {
	thresholds := Thresholds{
		MinSuccessRate:    0.9,
		MinRateSamples:    4,
		MaxAvgLatency:     100 * time.Millisecond,
		MinLatencySamples: 2,
		MaxDeadLetters:    3,
	}

	tests := []struct {
		name        string
		record      func(m *Monitor)
		deadLetters int
		wantStatus  Status
		wantIssues  int
	}{
		{
			name: "healthy",
			record: func(m *Monitor) {
				for i := 0; i < 5; i++ {
					m.RecordDispatch("A", time.Millisecond, nil)
				}
			},
			wantStatus: StatusHealthy,
		},
		{
			name: "few samples are not judged",
			record: func(m *Monitor) {
				m.RecordDispatch("A", time.Second, errBoom)
			},
			wantStatus: StatusHealthy,
		},
		{
			name: "low success rate",
			record: func(m *Monitor) {
				for i := 0; i < 4; i++ {
					m.RecordDispatch("A", time.Millisecond, errBoom)
				}
			},
			wantStatus: StatusWarning,
			wantIssues: 1,
		},
		{
			name:        "dead letters over limit",
			record:      func(m *Monitor) {},
			deadLetters: 4,
			wantStatus:  StatusWarning,
			wantIssues:  1,
		},
		{
			name: "three issues are critical",
			record: func(m *Monitor) {
				for i := 0; i < 4; i++ {
					m.RecordDispatch("A", time.Second, errBoom)
				}
			},
			deadLetters: 10,
			wantStatus:  StatusCritical,
			wantIssues:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(thresholds)
			tt.record(m)

			report := m.Health(tt.deadLetters)
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Len(t, report.Issues, tt.wantIssues)
		})
	}
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor(DefaultThresholds())
	m.RecordDispatch("A", time.Millisecond, nil)

	m.Reset()

	assert.Zero(t, m.TotalEvents())
	assert.Empty(t, m.EventTypeMetrics())
}

func TestRecorders_FanOut(t *testing.T) {
	a := NewMonitor(DefaultThresholds())
	b := NewMonitor(DefaultThresholds())

	Recorders{a, b}.RecordDispatch("A", time.Millisecond, nil)

	assert.Equal(t, int64(1), a.TotalEvents())
	assert.Equal(t, int64(1), b.TotalEvents())
}
