// Package replay re-drives stored history through the event bus. It never
// writes to the log; handlers subscribed at replay time observe the events
// again.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"github.com/aevon-lab/eventcore/internal/eventstore"
	"golang.org/x/sync/errgroup"
)

// EventSource is the read side of the event store.
type EventSource interface {
	GetStream(ctx context.Context, aggregateID, aggregateType string, fromVersion int64) (*eventstore.Stream, error)
	GetEvents(ctx context.Context, filter storage.EventFilter) ([]*v1.StoredEvent, error)
	GetLatestSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error)
}

// Dispatcher delivers stored events to handlers without appending them.
type Dispatcher interface {
	Replay(ctx context.Context, events ...v1.DomainEvent) error
}

type Service struct {
	source   EventSource
	bus      Dispatcher
	defaults Options
	pageSize int
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewService uses defaults.BatchSize and defaults.Workers when a call leaves
// them zero.
func NewService(source EventSource, bus Dispatcher, defaults Options) *Service {
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = DefaultBatchSize
	}
	if defaults.Workers <= 0 {
		defaults.Workers = 1
	}
	return &Service{
		source:   source,
		bus:      bus,
		defaults: defaults,
		pageSize: eventstore.MaxQueryLimit,
		sleep:    sleepContext,
	}
}

func (s *Service) withDefaults(opts Options) Options {
	if opts.BatchSize == 0 {
		opts.BatchSize = s.defaults.BatchSize
	}
	if opts.Workers == 0 {
		opts.Workers = s.defaults.Workers
	}
	if opts.Delay == 0 {
		opts.Delay = s.defaults.Delay
	}
	return opts
}

// ReplayForAggregate replays one aggregate's stream, filtered by opts, in
// batches. Only invalid options are returned as an error.
func (s *Service) ReplayForAggregate(ctx context.Context, aggregateID, aggregateType string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	result := s.replayAggregate(ctx, aggregateKey{id: aggregateID, typ: aggregateType}, s.withDefaults(opts))
	return &result, nil
}

// ReplayByEventType replays every aggregate that has events of eventType,
// re-driving only events of that type.
func (s *Service) ReplayByEventType(ctx context.Context, eventType string, opts Options) ([]Result, error) {
	if eventType == "" {
		return nil, coreerr.Validationf("event_type", "is required")
	}
	opts.EventType = eventType
	return s.ReplayAll(ctx, opts)
}

// ReplayAll discovers every aggregate referenced in the filtered window and
// replays each one.
func (s *Service) ReplayAll(ctx context.Context, opts Options) ([]Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = s.withDefaults(opts)

	keys, err := s.discover(ctx, opts)
	if err != nil {
		return nil, err
	}

	slog.Info("[Replay] Bulk replay started",
		"aggregates", len(keys),
		"event_type", opts.EventType,
		"aggregate_type", opts.AggregateType,
		"workers", opts.Workers)

	results := make([]Result, len(keys))
	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, key := range keys {
		g.Go(func() error {
			results[i] = s.replayAggregate(ctx, key, opts)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	slog.Info("[Replay] Bulk replay finished",
		"aggregates", len(results),
		"failed", failed)
	return results, nil
}

// ReplayFromSnapshot replays only the events after the latest snapshot, or
// from opts.FromVersion when that is later. It returns *NotFoundError when the aggregate has no snapshot.
func (s *Service) ReplayFromSnapshot(ctx context.Context, aggregateID, aggregateType string, opts Options) (*Result, error) {
	snapshot, err := s.source.GetLatestSnapshot(ctx, aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	opts.FromVersion = max(opts.FromVersion, snapshot.Version+1)
	return s.ReplayForAggregate(ctx, aggregateID, aggregateType, opts)
}

type aggregateKey struct {
	id  string
	typ string
}

// discover pages through the filtered window and returns distinct
// aggregates in first-seen order.
func (s *Service) discover(ctx context.Context, opts Options) ([]aggregateKey, error) {
	filter := opts.filter()
	filter.Limit = s.pageSize

	seen := make(map[aggregateKey]bool)
	var keys []aggregateKey
	for {
		page, err := s.source.GetEvents(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to discover aggregates: %w", err)
		}
		for _, e := range page {
			key := aggregateKey{id: e.AggregateID, typ: e.AggregateType}
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
		if len(page) < filter.Limit {
			return keys, nil
		}
		filter.Offset += len(page)
	}
}

func (s *Service) replayAggregate(ctx context.Context, key aggregateKey, opts Options) Result {
	start := time.Now()
	result := Result{AggregateID: key.id, AggregateType: key.typ}

	fail := func(err error) Result {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		slog.Warn("[Replay] Aggregate replay failed",
			"aggregate_type", key.typ,
			"aggregate_id", key.id,
			"events_replayed", result.EventsReplayed,
			"error", err)
		return result
	}

	stream, err := s.source.GetStream(ctx, key.id, key.typ, opts.FromVersion)
	if err != nil {
		return fail(err)
	}

	events := make([]v1.DomainEvent, 0, len(stream.Events))
	for _, e := range stream.Events {
		if opts.matches(e) {
			events = append(events, e)
		}
	}

	for offset := 0; offset < len(events); offset += opts.BatchSize {
		end := min(offset+opts.BatchSize, len(events))
		for _, e := range events[offset:end] {
			if err := s.bus.Replay(ctx, e); err != nil {
				return fail(err)
			}
			result.EventsReplayed++
			result.LastVersion = e.Version
			if opts.Delay > 0 {
				if err := s.sleep(ctx, opts.Delay); err != nil {
					return fail(err)
				}
			}
		}
		slog.Info("[Replay] Batch replayed",
			"aggregate_type", key.typ,
			"aggregate_id", key.id,
			"batch_events", end-offset,
			"events_replayed", result.EventsReplayed,
			"total", len(events))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
