package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
)

// DeadLetterAdapter persists the bus dead-letter queue in the dead_letters table.
type DeadLetterAdapter struct {
	db *sql.DB
}

func NewDeadLetterAdapter(db *sql.DB) *DeadLetterAdapter {
	return &DeadLetterAdapter{db: db}
}

func (a *DeadLetterAdapter) SaveDeadLetter(ctx context.Context, letter v1.DeadLetter) error {
	eventJSON, err := json.Marshal(letter.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-lettered event: %w", err)
	}

	_, err = a.db.ExecContext(ctx, querySaveDeadLetter,
		letter.ID,
		eventJSON,
		letter.Error,
		nullString(letter.Handler),
		letter.Stage,
		letter.RetryCount,
		letter.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter %s: %w", letter.ID, err)
	}
	return nil
}

// ListDeadLetters returns the queue oldest first.
func (a *DeadLetterAdapter) ListDeadLetters(ctx context.Context) ([]v1.DeadLetter, error) {
	rows, err := a.db.QueryContext(ctx, queryListDeadLetters)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []v1.DeadLetter
	for rows.Next() {
		letter, err := scanDeadLetterRow(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, *letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}
	return letters, nil
}

func (a *DeadLetterAdapter) DeleteDeadLetter(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, queryDeleteDeadLetter, id); err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", id, err)
	}
	return nil
}
