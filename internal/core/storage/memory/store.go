// Package memory is an in-process implementation of the storage repositories.
// It enforces the same version rules as the Postgres adapter and is used by
// tests and by single-node deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/storage"
)

type aggregateKey struct {
	id  string
	typ string
}

// Store implements storage.EventRepository, storage.SagaRepository and
// storage.DeadLetterRepository.
type Store struct {
	mu sync.RWMutex

	seq       int64
	events    []*v1.StoredEvent
	eventIDs  map[string]struct{}
	latest    map[aggregateKey]int64
	snapshots map[aggregateKey][]v1.Snapshot

	sagas       map[string]v1.SagaRecord
	deadLetters map[string]v1.DeadLetter

	now func() time.Time
}

var (
	_ storage.EventRepository      = (*Store)(nil)
	_ storage.SagaRepository       = (*Store)(nil)
	_ storage.DeadLetterRepository = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		eventIDs:    make(map[string]struct{}),
		latest:      make(map[aggregateKey]int64),
		snapshots:   make(map[aggregateKey][]v1.Snapshot),
		sagas:       make(map[string]v1.SagaRecord),
		deadLetters: make(map[string]v1.DeadLetter),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) SaveEvent(ctx context.Context, event v1.DomainEvent) (*v1.StoredEvent, error) {
	stored, err := s.SaveEvents(ctx, []v1.DomainEvent{event})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

// SaveEvents appends all events or none.
func (s *Store) SaveEvents(ctx context.Context, events []v1.DomainEvent) ([]*v1.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[aggregateKey]int64)
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		key := aggregateKey{e.AggregateID, e.AggregateType}
		current, ok := staged[key]
		if !ok {
			current = s.latest[key]
		}
		if e.Version != current+1 {
			return nil, storage.ErrDuplicate
		}
		if _, dup := s.eventIDs[e.EventID]; dup {
			return nil, storage.ErrDuplicate
		}
		if _, dup := seen[e.EventID]; dup {
			return nil, storage.ErrDuplicate
		}
		seen[e.EventID] = struct{}{}
		staged[key] = e.Version
	}

	now := s.now()
	out := make([]*v1.StoredEvent, 0, len(events))
	for _, e := range events {
		s.seq++
		stored := &v1.StoredEvent{DomainEvent: e.Clone(), Sequence: s.seq, CreatedAt: now}
		s.events = append(s.events, stored)
		s.eventIDs[e.EventID] = struct{}{}
		out = append(out, cloneStored(stored))
	}
	for key, version := range staged {
		s.latest[key] = version
	}
	return out, nil
}

func (s *Store) QueryEvents(ctx context.Context, filter storage.EventFilter) ([]*v1.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []*v1.StoredEvent
	for _, e := range s.events {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Sequence < b.Sequence
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*v1.StoredEvent, len(matched))
	for i, e := range matched {
		out[i] = cloneStored(e)
	}
	return out, nil
}

func matches(e *v1.StoredEvent, f storage.EventFilter) bool {
	switch {
	case f.AggregateID != "" && e.AggregateID != f.AggregateID:
		return false
	case f.AggregateType != "" && e.AggregateType != f.AggregateType:
		return false
	case f.EventType != "" && e.EventType != f.EventType:
		return false
	case f.CorrelationID != "" && e.CorrelationID != f.CorrelationID:
		return false
	case f.FromVersion > 0 && e.Version < f.FromVersion:
		return false
	case f.ToVersion > 0 && e.Version > f.ToVersion:
		return false
	case !f.FromTimestamp.IsZero() && e.Timestamp.Before(f.FromTimestamp):
		return false
	case !f.ToTimestamp.IsZero() && e.Timestamp.After(f.ToTimestamp):
		return false
	}
	return true
}

func (s *Store) LatestVersion(ctx context.Context, aggregateID, aggregateType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[aggregateKey{aggregateID, aggregateType}], nil
}

func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// SaveSnapshot keeps every version; a snapshot at an existing version replaces it.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot v1.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey{snapshot.AggregateID, snapshot.AggregateType}
	snapshot.Data = v1.CloneMap(snapshot.Data)

	list := s.snapshots[key]
	for i := range list {
		if list[i].Version == snapshot.Version {
			list[i] = snapshot
			return nil
		}
	}
	list = append(list, snapshot)
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	s.snapshots[key] = list
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[aggregateKey{aggregateID, aggregateType}]
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	snapshot := list[len(list)-1]
	snapshot.Data = v1.CloneMap(snapshot.Data)
	return &snapshot, nil
}

func (s *Store) DeleteAggregate(ctx context.Context, aggregateID, aggregateType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey{aggregateID, aggregateType}
	kept := s.events[:0]
	for _, e := range s.events {
		if e.AggregateID == aggregateID && e.AggregateType == aggregateType {
			delete(s.eventIDs, e.EventID)
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	delete(s.latest, key)
	delete(s.snapshots, key)
	return nil
}

func (s *Store) Save(ctx context.Context, record v1.SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sagas[record.ID]; ok {
		record.CreatedAt = prev.CreatedAt
	}
	s.sagas[record.ID] = record.Clone()
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*v1.SagaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sagas[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := record.Clone()
	return &clone, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sagas, id)
	return nil
}

// FindByState returns matching records oldest first.
func (s *Store) FindByState(ctx context.Context, state v1.SagaStatus) ([]*v1.SagaRecord, error) {
	s.mu.RLock()
	var out []*v1.SagaRecord
	for _, r := range s.sagas {
		if r.State == state {
			clone := r.Clone()
			out = append(out, &clone)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveDeadLetter(ctx context.Context, letter v1.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	letter.Event = letter.Event.Clone()
	s.deadLetters[letter.ID] = letter
	return nil
}

// ListDeadLetters returns the queue oldest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]v1.DeadLetter, error) {
	s.mu.RLock()
	out := make([]v1.DeadLetter, 0, len(s.deadLetters))
	for _, d := range s.deadLetters {
		d.Event = d.Event.Clone()
		out = append(out, d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadLetters, id)
	return nil
}

func cloneStored(e *v1.StoredEvent) *v1.StoredEvent {
	return &v1.StoredEvent{DomainEvent: e.DomainEvent.Clone(), Sequence: e.Sequence, CreatedAt: e.CreatedAt}
}
