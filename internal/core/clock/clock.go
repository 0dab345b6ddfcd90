// Package clock supplies the time and identity source shared by events, sagas
// and snapshots.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source produces timestamps and globally unique identifiers.
type Source interface {
	Now() time.Time
	NewID() string
}

// System is the production Source. Timestamps are UTC and never go backwards
// within one process, even if the wall clock is adjusted.
type System struct {
	mu   sync.Mutex
	last time.Time
}

// Default is the process-wide System source.
var Default Source = &System{}

// Now returns a UTC timestamp strictly after the previously returned one.
func (s *System) Now() time.Time {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}

// NewID returns a time-ordered UUID (v7), falling back to a random v4.
func (s *System) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Fixed is a deterministic Source for tests.
type Fixed struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
	ids  []string
	n    int
}

// NewFixed returns a Source starting at t and advancing by step on every Now call.
// When ids is non-empty they are handed out in order, then generated ones follow.
func NewFixed(t time.Time, step time.Duration, ids ...string) *Fixed {
	return &Fixed{t: t.UTC(), step: step, ids: ids}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.t
	f.t = f.t.Add(f.step)
	return now
}

func (f *Fixed) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n < len(f.ids) {
		id := f.ids[f.n]
		f.n++
		return id
	}
	f.n++
	return uuid.NewString()
}
