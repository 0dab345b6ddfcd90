package v1

import "time"

// Snapshot is a materialized aggregate state as of Version.
type Snapshot struct {
	ID            string                 `json:"id"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	Data          map[string]interface{} `json:"data"`
	Version       int64                  `json:"version"`
	Timestamp     time.Time              `json:"timestamp"`
}

// SagaStatus is the lifecycle state of a saga.
type SagaStatus string

const (
	SagaStarted      SagaStatus = "STARTED"
	SagaProcessing   SagaStatus = "PROCESSING"
	SagaCompleted    SagaStatus = "COMPLETED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaCompensated  SagaStatus = "COMPENSATED"
	SagaFailed       SagaStatus = "FAILED"
)

// Terminal reports whether no further transition happens without operator action.
func (s SagaStatus) Terminal() bool {
	return s == SagaCompleted || s == SagaCompensated || s == SagaFailed
}

// SagaRecord is the persisted state of one saga execution.
type SagaRecord struct {
	ID          string                 `json:"id"`
	SagaType    string                 `json:"saga_type"`
	State       SagaStatus             `json:"state"`
	CurrentStep int                    `json:"current_step"`
	Data        map[string]interface{} `json:"data"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Error       string                 `json:"error,omitempty"`
}

// Clone returns a deep copy of the record.
func (r SagaRecord) Clone() SagaRecord {
	out := r
	out.Data = CloneMap(r.Data)
	return out
}

// Dead-letter stages.
const (
	StagePublish = "publish"
	StageHandler = "handler"
)

// DeadLetter is an event whose delivery was given up on.
type DeadLetter struct {
	ID         string      `json:"id"`
	Event      DomainEvent `json:"event"`
	Error      string      `json:"error"`
	Handler    string      `json:"handler,omitempty"`
	Stage      string      `json:"stage"`
	Timestamp  time.Time   `json:"timestamp"`
	RetryCount int         `json:"retry_count"`
}
