// Package eventstore is the append-only domain event log.
//
// Every aggregate's events carry a gap-free version sequence starting at 1.
// The store validates events, maps storage conflicts onto ConcurrencyError and
// keeps point-in-time snapshots next to the log.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/clock"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 10000
)

// Stream is one aggregate's events at or after a version, in version order.
type Stream struct {
	AggregateID   string           `json:"aggregate_id"`
	AggregateType string           `json:"aggregate_type"`
	Events        []v1.DomainEvent `json:"events"`
	// Version is the aggregate's latest stored version, not the last returned one.
	Version int64 `json:"version"`
}

// Store wraps an EventRepository with domain validation and error mapping.
type Store struct {
	repo  storage.EventRepository
	clock clock.Source
}

type Option func(*Store)

// WithClock sets the time source used for snapshot timestamps.
func WithClock(src clock.Source) Option {
	return func(s *Store) { s.clock = src }
}

func New(repo storage.EventRepository, opts ...Option) *Store {
	s := &Store{repo: repo, clock: clock.Default}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists one event. A version that is taken, or that does not follow
// the latest stored version, yields *ConcurrencyError and leaves the log unchanged.
func (s *Store) Append(ctx context.Context, event v1.DomainEvent) (*v1.StoredEvent, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	stored, err := s.repo.SaveEvent(ctx, event)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, s.conflict(ctx, []v1.DomainEvent{event})
	}
	if err != nil {
		return nil, fmt.Errorf("append %s/%s v%d: %w", event.AggregateType, event.AggregateID, event.Version, err)
	}

	slog.Debug("[EventStore] Appended event",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"aggregate_type", event.AggregateType,
		"aggregate_id", event.AggregateID,
		"version", event.Version)
	return stored, nil
}

// AppendBatch persists events atomically: all are visible or none are.
func (s *Store) AppendBatch(ctx context.Context, events []v1.DomainEvent) ([]*v1.StoredEvent, error) {
	if len(events) == 0 {
		return nil, coreerr.Validationf("events", "batch is empty")
	}
	for _, event := range events {
		if err := validateEvent(event); err != nil {
			return nil, err
		}
	}

	stored, err := s.repo.SaveEvents(ctx, events)
	if errors.Is(err, storage.ErrDuplicate) {
		return nil, s.conflict(ctx, events)
	}
	if err != nil {
		return nil, fmt.Errorf("append batch of %d: %w", len(events), err)
	}

	slog.Debug("[EventStore] Appended batch", "count", len(stored))
	return stored, nil
}

// conflict builds the ConcurrencyError for the first event whose version does
// not follow the aggregate's stored (or batch-staged) version.
func (s *Store) conflict(ctx context.Context, events []v1.DomainEvent) error {
	type key struct{ id, typ string }
	staged := make(map[key]int64)

	for _, e := range events {
		k := key{e.AggregateID, e.AggregateType}
		current, ok := staged[k]
		if !ok {
			latest, err := s.repo.LatestVersion(ctx, e.AggregateID, e.AggregateType)
			if err != nil {
				current = -1
			} else {
				current = latest
			}
		}
		if current < 0 || e.Version != current+1 {
			return &coreerr.ConcurrencyError{
				AggregateID:   e.AggregateID,
				AggregateType: e.AggregateType,
				Version:       e.Version,
				Current:       current,
			}
		}
		staged[k] = e.Version
	}

	// versions line up, so the conflict was an event id collision or a concurrent writer
	e := events[0]
	return &coreerr.ConcurrencyError{
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Version:       e.Version,
		Current:       -1,
	}
}

// GetStream returns events with version >= fromVersion in version order.
// An aggregate with no events yields *NotFoundError when fromVersion is 0.
func (s *Store) GetStream(ctx context.Context, aggregateID, aggregateType string, fromVersion int64) (*Stream, error) {
	if aggregateID == "" || aggregateType == "" {
		return nil, coreerr.Validationf("aggregate_id", "aggregate id and type are required")
	}
	if fromVersion < 0 {
		return nil, coreerr.Validationf("from_version", "must be >= 0, got %d", fromVersion)
	}

	stored, err := s.repo.QueryEvents(ctx, storage.EventFilter{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		FromVersion:   fromVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("load stream %s/%s: %w", aggregateType, aggregateID, err)
	}

	latest, err := s.repo.LatestVersion(ctx, aggregateID, aggregateType)
	if err != nil {
		return nil, fmt.Errorf("load stream %s/%s: %w", aggregateType, aggregateID, err)
	}
	if latest == 0 && fromVersion == 0 {
		return nil, &coreerr.NotFoundError{Resource: "stream", Key: aggregateType + "/" + aggregateID}
	}

	sort.Slice(stored, func(i, j int) bool { return stored[i].Version < stored[j].Version })

	events := make([]v1.DomainEvent, len(stored))
	for i, e := range stored {
		events[i] = e.DomainEvent
	}

	return &Stream{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Events:        events,
		Version:       latest,
	}, nil
}

// GetEvents runs a filtered query ordered by (timestamp, version).
// Limit defaults to DefaultQueryLimit and is capped at MaxQueryLimit.
func (s *Store) GetEvents(ctx context.Context, filter storage.EventFilter) ([]*v1.StoredEvent, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultQueryLimit
	case filter.Limit > MaxQueryLimit:
		filter.Limit = MaxQueryLimit
	}

	events, err := s.repo.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return events, nil
}

// GetLatestVersion returns 0 when the aggregate has no events.
func (s *Store) GetLatestVersion(ctx context.Context, aggregateID, aggregateType string) (int64, error) {
	version, err := s.repo.LatestVersion(ctx, aggregateID, aggregateType)
	if err != nil {
		return 0, fmt.Errorf("latest version %s/%s: %w", aggregateType, aggregateID, err)
	}
	return version, nil
}

// CreateSnapshot stores data as the aggregate state at version.
// The version must exist in the log and must not be older than the latest snapshot;
// a snapshot at the same version replaces the previous one.
func (s *Store) CreateSnapshot(
	ctx context.Context,
	aggregateID, aggregateType string,
	version int64,
	data map[string]interface{},
) (*v1.Snapshot, error) {
	if version < 1 {
		return nil, coreerr.Validationf("version", "must be >= 1, got %d", version)
	}

	latest, err := s.GetLatestVersion(ctx, aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, &coreerr.NotFoundError{Resource: "stream", Key: aggregateType + "/" + aggregateID}
	}
	if version > latest {
		return nil, coreerr.Validationf("version", "snapshot version %d is ahead of stream version %d", version, latest)
	}

	prev, err := s.repo.LatestSnapshot(ctx, aggregateID, aggregateType)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load snapshot %s/%s: %w", aggregateType, aggregateID, err)
	case prev.Version > version:
		return nil, &coreerr.ConcurrencyError{
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			Version:       version,
			Current:       prev.Version,
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate snapshot id: %w", err)
	}

	snapshot := v1.Snapshot{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Data:          v1.CloneMap(data),
		Version:       version,
		Timestamp:     s.clock.Now(),
	}
	if snapshot.Data == nil {
		snapshot.Data = map[string]interface{}{}
	}
	if err := s.repo.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("save snapshot %s/%s: %w", aggregateType, aggregateID, err)
	}

	slog.Info("[EventStore] Snapshot created",
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID,
		"version", version)
	return &snapshot, nil
}

// GetLatestSnapshot returns the highest-version snapshot or *NotFoundError.
func (s *Store) GetLatestSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error) {
	snapshot, err := s.repo.LatestSnapshot(ctx, aggregateID, aggregateType)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &coreerr.NotFoundError{Resource: "snapshot", Key: aggregateType + "/" + aggregateID}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s/%s: %w", aggregateType, aggregateID, err)
	}
	return snapshot, nil
}

// DeleteAggregate erases an aggregate's events and snapshots.
// Administrative use only: the log is otherwise never rewritten.
func (s *Store) DeleteAggregate(ctx context.Context, aggregateID, aggregateType string) error {
	if err := s.repo.DeleteAggregate(ctx, aggregateID, aggregateType); err != nil {
		return fmt.Errorf("delete %s/%s: %w", aggregateType, aggregateID, err)
	}
	slog.Warn("[EventStore] Aggregate deleted",
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID)
	return nil
}

// Size returns the number of stored events.
func (s *Store) Size(ctx context.Context) (int64, error) {
	n, err := s.repo.CountEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func validateEvent(event v1.DomainEvent) error {
	if err := event.Validate(); err != nil {
		return &coreerr.ValidationError{Field: "event", Message: err.Error()}
	}
	return nil
}

func validateFilter(f storage.EventFilter) error {
	if f.FromVersion < 0 || f.ToVersion < 0 {
		return coreerr.Validationf("version", "version bounds must be >= 0")
	}
	if f.ToVersion > 0 && f.ToVersion < f.FromVersion {
		return coreerr.Validationf("to_version", "to_version %d is before from_version %d", f.ToVersion, f.FromVersion)
	}
	if !f.FromTimestamp.IsZero() && !f.ToTimestamp.IsZero() && f.ToTimestamp.Before(f.FromTimestamp) {
		return coreerr.Validationf("to_timestamp", "to_timestamp is before from_timestamp")
	}
	if f.Offset < 0 {
		return coreerr.Validationf("offset", "must be >= 0")
	}
	return nil
}
