package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
)

// marshalEventJSON marshals an event's payload and metadata to JSON.
// Empty metadata produces nil (SQL NULL) rather than the JSON "null" string.
func marshalEventJSON(event v1.DomainEvent) (payloadJSON, metadataJSON []byte, err error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err = json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	return payloadJSON, metadataJSON, nil
}

func marshalMap(m map[string]interface{}, what string) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return data, nil
}

func unmarshalMap(data []byte, what string) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return m, nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans one row selected with eventColumns.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.StoredEvent, error) {
	var (
		evt                      v1.StoredEvent
		payloadJSON, metaJSON    []byte
		correlationID, causation sql.NullString
	)

	err := row.Scan(
		&evt.Sequence,
		&evt.EventID,
		&evt.AggregateID,
		&evt.AggregateType,
		&evt.EventType,
		&evt.Version,
		&payloadJSON,
		&metaJSON,
		&correlationID,
		&causation,
		&evt.Timestamp,
		&evt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if evt.Payload, err = unmarshalMap(payloadJSON, "payload"); err != nil {
		return nil, err
	}
	if evt.Payload == nil {
		evt.Payload = map[string]interface{}{}
	}
	if evt.Metadata, err = unmarshalMap(metaJSON, "metadata"); err != nil {
		return nil, err
	}
	evt.CorrelationID = correlationID.String
	evt.CausationID = causation.String

	return &evt, nil
}

func scanSnapshotRow(row scanner) (*v1.Snapshot, error) {
	var (
		s        v1.Snapshot
		dataJSON []byte
	)
	if err := row.Scan(&s.ID, &s.AggregateID, &s.AggregateType, &s.Version, &dataJSON, &s.Timestamp); err != nil {
		return nil, err
	}
	data, err := unmarshalMap(dataJSON, "snapshot data")
	if err != nil {
		return nil, err
	}
	s.Data = data
	return &s, nil
}

func scanSagaRow(row scanner) (*v1.SagaRecord, error) {
	var (
		r        v1.SagaRecord
		state    string
		dataJSON []byte
		errMsg   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.SagaType, &state, &r.CurrentStep, &dataJSON, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	data, err := unmarshalMap(dataJSON, "saga data")
	if err != nil {
		return nil, err
	}
	r.State = v1.SagaStatus(state)
	r.Data = data
	r.Error = errMsg.String
	return &r, nil
}

func scanDeadLetterRow(row scanner) (*v1.DeadLetter, error) {
	var (
		d         v1.DeadLetter
		eventJSON []byte
		handler   sql.NullString
	)
	if err := row.Scan(&d.ID, &eventJSON, &d.Error, &handler, &d.Stage, &d.RetryCount, &d.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
	}
	if err := json.Unmarshal(eventJSON, &d.Event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead-lettered event: %w", err)
	}
	d.Handler = handler.String
	return &d, nil
}
