package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/storage"
)

// SagaAdapter persists saga records in the sagas table.
type SagaAdapter struct {
	db *sql.DB
}

func NewSagaAdapter(db *sql.DB) *SagaAdapter {
	return &SagaAdapter{db: db}
}

// Save upserts the record by id; created_at is kept from the first write.
func (a *SagaAdapter) Save(ctx context.Context, record v1.SagaRecord) error {
	data, err := marshalMap(record.Data, "saga data")
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, querySaveSaga,
		record.ID,
		record.SagaType,
		string(record.State),
		record.CurrentStep,
		data,
		nullString(record.Error),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save saga %s: %w", record.ID, err)
	}
	return nil
}

func (a *SagaAdapter) Load(ctx context.Context, id string) (*v1.SagaRecord, error) {
	record, err := scanSagaRow(a.db.QueryRowContext(ctx, queryLoadSaga, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga %s: %w", id, err)
	}
	return record, nil
}

func (a *SagaAdapter) Delete(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, queryDeleteSaga, id); err != nil {
		return fmt.Errorf("failed to delete saga %s: %w", id, err)
	}
	return nil
}

// FindByState returns records in the given state, oldest first.
func (a *SagaAdapter) FindByState(ctx context.Context, state v1.SagaStatus) ([]*v1.SagaRecord, error) {
	rows, err := a.db.QueryContext(ctx, queryFindSagasByState, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to query sagas: %w", err)
	}
	defer rows.Close()

	var records []*v1.SagaRecord
	for rows.Next() {
		record, err := scanSagaRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sagas: %w", err)
	}
	return records, nil
}
