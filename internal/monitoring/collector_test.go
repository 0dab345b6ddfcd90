package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounts struct {
	deadLetters int
	sagas       int
	size        int64
	sizeErr     error
}

func (f fakeCounts) DeadLetterCount() int { return f.deadLetters }
func (f fakeCounts) ActiveCount() int     { return f.sagas }
func (f fakeCounts) Size(context.Context) (int64, error) {
	return f.size, f.sizeErr
}

func TestCollector_Collect(t *testing.T) {
	m := NewMonitor(DefaultThresholds())
	m.RecordDispatch("A", time.Millisecond, nil)
	m.RecordDispatch("B", time.Millisecond, nil)

	exporter := NewPrometheusExporter(prometheus.NewRegistry())
	src := fakeCounts{deadLetters: 3, sagas: 2, size: 12}
	c := NewCollector(m, CollectorConfig{
		TopN:        1,
		DeadLetters: src,
		Sagas:       src,
		Store:       src,
		Exporter:    exporter,
	})

	got := c.Collect(context.Background())

	assert.Equal(t, int64(2), got.TotalEvents)
	assert.Len(t, got.EventTypes, 2)
	assert.Len(t, got.TopByVolume, 1)
	assert.Equal(t, 3, got.DeadLetterQueueSize)
	assert.Equal(t, 2, got.ActiveSagas)
	assert.Equal(t, int64(12), got.StoreSize)
	assert.Equal(t, StatusHealthy, got.Health.Status)
	assert.False(t, got.CollectedAt.IsZero())
	assert.Equal(t, got, c.Last())

	assert.Equal(t, 3.0, testutil.ToFloat64(exporter.deadLetters))
}

func TestCollector_StoreSizeError(t *testing.T) {
	c := NewCollector(NewMonitor(DefaultThresholds()), CollectorConfig{
		Store: fakeCounts{sizeErr: errors.New("db down")},
	})

	got := c.Collect(context.Background())
	assert.Equal(t, int64(-1), got.StoreSize)
}

func TestCollector_StartStop(t *testing.T) {
	c := NewCollector(NewMonitor(DefaultThresholds()), CollectorConfig{
		Interval: 10 * time.Millisecond,
		Sagas:    fakeCounts{sagas: 4},
	})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		return c.Last().ActiveSagas == 4
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}

func TestCollector_StartRejectsZeroInterval(t *testing.T) {
	c := NewCollector(NewMonitor(DefaultThresholds()), CollectorConfig{})
	assert.Error(t, c.Start(context.Background()))
}
