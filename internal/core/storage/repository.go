package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
)

var (
	// ErrDuplicate is returned when a record already exists at
	// (aggregate_id, aggregate_type, version), or when the version would leave a gap.
	ErrDuplicate = errors.New("event version already exists")

	// ErrNotFound is returned by single-record lookups with no match.
	ErrNotFound = errors.New("record not found")
)

// EventFilter selects stored events. Zero values mean "unbounded".
type EventFilter struct {
	AggregateID   string
	AggregateType string
	EventType     string
	CorrelationID string

	FromVersion int64 // inclusive
	ToVersion   int64 // inclusive

	FromTimestamp time.Time // inclusive
	ToTimestamp   time.Time // inclusive

	Limit  int
	Offset int
}

// EventRepository is the event and snapshot persistence collaborator.
//
// Implementations must keep (aggregate_id, aggregate_type, version) unique and
// gap-free: SaveEvent/SaveEvents return ErrDuplicate when an event's version is
// not exactly latest+1 for its aggregate.
type EventRepository interface {
	SaveEvent(ctx context.Context, event v1.DomainEvent) (*v1.StoredEvent, error)

	// SaveEvents stores all events atomically: either every event is visible
	// to readers or none is.
	SaveEvents(ctx context.Context, events []v1.DomainEvent) ([]*v1.StoredEvent, error)

	// QueryEvents returns matching events ordered by (timestamp, version, sequence).
	QueryEvents(ctx context.Context, filter EventFilter) ([]*v1.StoredEvent, error)

	// LatestVersion returns 0 when the aggregate has no events.
	LatestVersion(ctx context.Context, aggregateID, aggregateType string) (int64, error)

	// CountEvents returns the total number of stored events.
	CountEvents(ctx context.Context) (int64, error)

	// SaveSnapshot stores a snapshot, replacing one at the same version.
	SaveSnapshot(ctx context.Context, snapshot v1.Snapshot) error

	// LatestSnapshot returns the highest-version snapshot or ErrNotFound.
	LatestSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error)

	// DeleteAggregate removes every event and snapshot of the aggregate.
	DeleteAggregate(ctx context.Context, aggregateID, aggregateType string) error
}

// SagaRepository persists saga state.
type SagaRepository interface {
	Save(ctx context.Context, record v1.SagaRecord) error
	// Load returns ErrNotFound for unknown ids.
	Load(ctx context.Context, sagaID string) (*v1.SagaRecord, error)
	Delete(ctx context.Context, sagaID string) error
	FindByState(ctx context.Context, state v1.SagaStatus) ([]*v1.SagaRecord, error)
}

// DeadLetterRepository persists dead-lettered events so they survive restarts.
type DeadLetterRepository interface {
	SaveDeadLetter(ctx context.Context, entry v1.DeadLetter) error
	ListDeadLetters(ctx context.Context) ([]v1.DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}
