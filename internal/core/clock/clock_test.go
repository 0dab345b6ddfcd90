package clock

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSystem_NowIsStrictlyIncreasing(t *testing.T) {
	s := &System{}
	prev := s.Now()
	for i := 0; i < 1000; i++ {
		next := s.Now()
		require.True(t, next.After(prev), "timestamp went backwards at iteration %d", i)
		require.Equal(t, time.UTC, next.Location())
		prev = next
	}
}

func TestSystem_NewIDIsUUID(t *testing.T) {
	s := &System{}
	a, b := s.NewID(), s.NewID()
	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestFixed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFixed(start, time.Second, "id-1")

	require.Equal(t, start, f.Now())
	require.Equal(t, start.Add(time.Second), f.Now())
	require.Equal(t, "id-1", f.NewID())
	require.NotEmpty(t, f.NewID())
}
