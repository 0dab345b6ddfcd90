package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/clock"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"github.com/aevon-lab/eventcore/internal/core/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newStore() (*Store, *memory.Store) {
	repo := memory.NewStore()
	return New(repo, WithClock(clock.NewFixed(t0, time.Second))), repo
}

func orderEvent(eventType string, version int64) v1.DomainEvent {
	return v1.NewDomainEvent("Order", "order-1", eventType, version,
		map[string]interface{}{"step": eventType},
		v1.WithClock(clock.NewFixed(t0.Add(time.Duration(version)*time.Second), 0)))
}

func appendAll(t *testing.T, s *Store, types ...string) {
	t.Helper()
	for i, typ := range types {
		_, err := s.Append(context.Background(), orderEvent(typ, int64(i+1)))
		require.NoError(t, err)
	}
}

func TestStore_AppendThenStreamIsOrderedWithoutGaps(t *testing.T) {
	s, _ := newStore()
	appendAll(t, s, "OrderCreated", "OrderPaid", "OrderShipped", "OrderDelivered")

	stream, err := s.GetStream(context.Background(), "order-1", "Order", 0)
	require.NoError(t, err)
	require.Len(t, stream.Events, 4)
	for i, e := range stream.Events {
		assert.Equal(t, int64(i+1), e.Version)
	}
	assert.Equal(t, int64(4), stream.Version)
}

func TestStore_AppendRejectsConflicts(t *testing.T) {
	tests := []struct {
		name        string
		version     int64
		wantCurrent int64
	}{
		{name: "same version twice", version: 2, wantCurrent: 2},
		{name: "gap in versions", version: 4, wantCurrent: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newStore()
			appendAll(t, s, "OrderCreated", "OrderPaid")

			before, err := s.GetStream(context.Background(), "order-1", "Order", 0)
			require.NoError(t, err)

			_, err = s.Append(context.Background(), orderEvent("OrderPaidAgain", tc.version))
			require.ErrorIs(t, err, coreerr.ErrConcurrency)

			var ce *coreerr.ConcurrencyError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.version, ce.Version)
			assert.Equal(t, tc.wantCurrent, ce.Current)

			after, err := s.GetStream(context.Background(), "order-1", "Order", 0)
			require.NoError(t, err)
			assert.Equal(t, before.Events, after.Events, "first record must be unchanged")
		})
	}
}

func TestStore_AppendValidatesEnvelope(t *testing.T) {
	s, _ := newStore()
	evt := orderEvent("OrderCreated", 1)
	evt.AggregateType = ""

	_, err := s.Append(context.Background(), evt)
	require.ErrorIs(t, err, coreerr.ErrValidation)
}

func TestStore_AppendBatchIsAtomic(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	_, err := s.AppendBatch(ctx, []v1.DomainEvent{
		orderEvent("OrderCreated", 1),
		orderEvent("OrderPaid", 2),
		orderEvent("OrderPaid", 2),
	})
	var ce *coreerr.ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(2), ce.Version)
	assert.Equal(t, int64(2), ce.Current)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	stored, err := s.AppendBatch(ctx, []v1.DomainEvent{orderEvent("OrderCreated", 1), orderEvent("OrderPaid", 2)})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	_, err = s.AppendBatch(ctx, nil)
	assert.ErrorIs(t, err, coreerr.ErrValidation)
}

func TestStore_GetStreamBoundaries(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	_, err := s.GetStream(ctx, "order-1", "Order", 0)
	require.ErrorIs(t, err, coreerr.ErrNotFound)

	empty, err := s.GetStream(ctx, "order-1", "Order", 1)
	require.NoError(t, err)
	assert.Empty(t, empty.Events)

	appendAll(t, s, "OrderCreated", "OrderPaid")

	latest, err := s.GetLatestVersion(ctx, "order-1", "Order")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	stream, err := s.GetStream(ctx, "order-1", "Order", 2)
	require.NoError(t, err)
	require.Len(t, stream.Events, 1, "from_version is inclusive")
	assert.Equal(t, "OrderPaid", stream.Events[0].EventType)

	stream, err = s.GetStream(ctx, "order-1", "Order", 3)
	require.NoError(t, err)
	assert.Empty(t, stream.Events)
	assert.Equal(t, int64(2), stream.Version)
}

func TestStore_GetEvents(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	appendAll(t, s, "OrderCreated", "OrderPaid", "OrderShipped")

	tests := []struct {
		name    string
		filter  storage.EventFilter
		want    []string
		wantErr error
	}{
		{
			name:   "by event type",
			filter: storage.EventFilter{EventType: "OrderPaid"},
			want:   []string{"OrderPaid"},
		},
		{
			name:   "version window",
			filter: storage.EventFilter{AggregateID: "order-1", FromVersion: 2, ToVersion: 3},
			want:   []string{"OrderPaid", "OrderShipped"},
		},
		{
			name:   "limit and offset",
			filter: storage.EventFilter{Limit: 1, Offset: 2},
			want:   []string{"OrderShipped"},
		},
		{
			name:    "inverted version window",
			filter:  storage.EventFilter{FromVersion: 3, ToVersion: 1},
			wantErr: coreerr.ErrValidation,
		},
		{
			name:    "inverted time window",
			filter:  storage.EventFilter{FromTimestamp: t0.Add(time.Hour), ToTimestamp: t0},
			wantErr: coreerr.ErrValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, err := s.GetEvents(ctx, tc.filter)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			got := make([]string, len(events))
			for i, e := range events {
				got[i] = e.EventType
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStore_Snapshots(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	_, err := s.CreateSnapshot(ctx, "order-1", "Order", 1, nil)
	require.ErrorIs(t, err, coreerr.ErrNotFound, "no stream to snapshot")

	appendAll(t, s, "OrderCreated", "OrderPaid", "OrderShipped")

	_, err = s.GetLatestSnapshot(ctx, "order-1", "Order")
	require.ErrorIs(t, err, coreerr.ErrNotFound)

	snap, err := s.CreateSnapshot(ctx, "order-1", "Order", 3, map[string]interface{}{"status": "shipped"})
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, t0, snap.Timestamp)

	_, err = s.CreateSnapshot(ctx, "order-1", "Order", 2, nil)
	require.ErrorIs(t, err, coreerr.ErrConcurrency, "stale snapshot")

	_, err = s.CreateSnapshot(ctx, "order-1", "Order", 9, nil)
	require.ErrorIs(t, err, coreerr.ErrValidation, "snapshot ahead of the log")

	latest, err := s.GetLatestSnapshot(ctx, "order-1", "Order")
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	assert.Equal(t, "shipped", latest.Data["status"])
}

func TestStore_DeleteAggregate(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	appendAll(t, s, "OrderCreated", "OrderPaid")
	_, err := s.CreateSnapshot(ctx, "order-1", "Order", 2, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAggregate(ctx, "order-1", "Order"))

	_, err = s.GetStream(ctx, "order-1", "Order", 0)
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
	_, err = s.GetLatestSnapshot(ctx, "order-1", "Order")
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}
