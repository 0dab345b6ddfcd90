package v1

import (
	"fmt"
	"time"

	"github.com/aevon-lab/eventcore/internal/core/clock"
	"github.com/mitchellh/copystructure"
)

// DomainEvent is one immutable fact about one aggregate.
//
// Events are passed by value. Every method that derives a new event returns a
// copy with cloned Payload and Metadata maps, so the receiver is never changed.
type DomainEvent struct {
	// EventID is globally unique and assigned at construction.
	EventID string `json:"event_id"`

	// AggregateID and AggregateType identify the entity this event belongs to,
	// e.g. ("9b1d...", "AIResult").
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`

	// EventType is the stable discriminator handlers subscribe to (e.g. "AIResultCompleted").
	EventType string `json:"event_type"`

	// Payload is the business fact.
	Payload map[string]interface{} `json:"payload"`

	// Metadata carries cross-cutting context (source, schema_version, trace ids).
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Version is the aggregate-local sequence number, starting at 1.
	Version int64 `json:"version"`

	// Timestamp is set once at construction.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID ties together events of one logical request or workflow.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CausationID names the event or command that directly caused this one.
	CausationID string `json:"causation_id,omitempty"`
}

// EventOption customizes a DomainEvent at construction time.
type EventOption func(*DomainEvent)

// WithMetadata attaches metadata to a new event.
func WithMetadata(md map[string]interface{}) EventOption {
	return func(e *DomainEvent) { e.Metadata = CloneMap(md) }
}

// WithCorrelation sets the correlation id of a new event.
func WithCorrelation(id string) EventOption {
	return func(e *DomainEvent) { e.CorrelationID = id }
}

// WithCausation sets the causation id of a new event.
func WithCausation(id string) EventOption {
	return func(e *DomainEvent) { e.CausationID = id }
}

// WithClock overrides the time/id source used for EventID and Timestamp.
func WithClock(src clock.Source) EventOption {
	return func(e *DomainEvent) {
		e.EventID = src.NewID()
		e.Timestamp = src.Now()
	}
}

// NewDomainEvent builds an event with a fresh id and timestamp.
func NewDomainEvent(
	aggregateType string,
	aggregateID string,
	eventType string,
	version int64,
	payload map[string]interface{},
	opts ...EventOption,
) DomainEvent {
	evt := DomainEvent{
		EventID:       clock.Default.NewID(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       CloneMap(payload),
		Version:       version,
		Timestamp:     clock.Default.Now(),
	}
	for _, opt := range opts {
		opt(&evt)
	}
	if evt.Payload == nil {
		evt.Payload = map[string]interface{}{}
	}
	return evt
}

// WithCorrelationID returns a copy of the event carrying the given correlation id.
func (e DomainEvent) WithCorrelationID(id string) DomainEvent {
	out := e.Clone()
	out.CorrelationID = id
	return out
}

// WithCausationID returns a copy of the event carrying the given causation id.
func (e DomainEvent) WithCausationID(id string) DomainEvent {
	out := e.Clone()
	out.CausationID = id
	return out
}

// CausedBy returns a copy linked to parent: causation is the parent's id and the
// correlation id is inherited (or started from the parent when it has none).
func (e DomainEvent) CausedBy(parent DomainEvent) DomainEvent {
	out := e.Clone()
	out.CausationID = parent.EventID
	out.CorrelationID = parent.CorrelationID
	if out.CorrelationID == "" {
		out.CorrelationID = parent.EventID
	}
	return out
}

// Clone returns a deep copy.
func (e DomainEvent) Clone() DomainEvent {
	out := e
	out.Payload = CloneMap(e.Payload)
	out.Metadata = CloneMap(e.Metadata)
	return out
}

// MetadataString returns a metadata value rendered as a string, or "".
func (e DomainEvent) MetadataString(key string) string {
	v, ok := e.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Validate ensures the event has all required envelope attributes.
func (e DomainEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("aggregate_type is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", e.Version)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// StoredEvent is a DomainEvent as persisted by the event store.
type StoredEvent struct {
	DomainEvent

	// Sequence is the store-wide insertion order. Not part of the event itself.
	Sequence int64 `json:"sequence"`

	// CreatedAt is assigned by storage.
	CreatedAt time.Time `json:"created_at"`
}

// CloneMap deep-copies a JSON-like map. Nil stays nil.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	copied, err := copystructure.Copy(m)
	if err != nil {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return copied.(map[string]interface{})
}
