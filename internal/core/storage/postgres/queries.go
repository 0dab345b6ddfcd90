package postgres

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/eventcore/internal/core/storage"
)

const eventColumns = `
	sequence, event_id, aggregate_id, aggregate_type, event_type, version,
	payload, metadata, correlation_id, causation_id, "timestamp", created_at`

const (
	// querySaveEvent inserts one event only if its version is exactly latest+1.
	// The WHERE guard rejects gaps, the unique constraint rejects concurrent
	// writers racing for the same version. Both cases return no rows.
	querySaveEvent = `
		INSERT INTO events (
			event_id, aggregate_id, aggregate_type, event_type, version,
			payload, metadata, correlation_id, causation_id, "timestamp"
		)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::bigint,
		       $6::jsonb, $7::jsonb, $8::text, $9::text, $10::timestamptz
		WHERE COALESCE(
			(SELECT MAX(version) FROM events WHERE aggregate_id = $2::text AND aggregate_type = $3::text),
			0
		) = $5::bigint - 1
		ON CONFLICT (aggregate_id, aggregate_type, version) DO NOTHING
		RETURNING sequence, created_at
	`

	queryLatestVersion = `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1 AND aggregate_type = $2
	`

	queryCountEvents = `SELECT COUNT(*) FROM events`

	// querySaveSnapshot replaces a snapshot at the same version; older versions stay.
	querySaveSnapshot = `
		INSERT INTO snapshots (id, aggregate_id, aggregate_type, version, data, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (aggregate_id, aggregate_type, version)
		DO UPDATE SET
			id          = EXCLUDED.id,
			data        = EXCLUDED.data,
			"timestamp" = EXCLUDED."timestamp"
	`

	queryLatestSnapshot = `
		SELECT id, aggregate_id, aggregate_type, version, data, "timestamp"
		FROM snapshots
		WHERE aggregate_id = $1 AND aggregate_type = $2
		ORDER BY version DESC
		LIMIT 1
	`

	queryDeleteEvents    = `DELETE FROM events WHERE aggregate_id = $1 AND aggregate_type = $2`
	queryDeleteSnapshots = `DELETE FROM snapshots WHERE aggregate_id = $1 AND aggregate_type = $2`

	querySaveSaga = `
		INSERT INTO sagas (id, saga_type, state, current_step, data, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			saga_type    = EXCLUDED.saga_type,
			state        = EXCLUDED.state,
			current_step = EXCLUDED.current_step,
			data         = EXCLUDED.data,
			error        = EXCLUDED.error,
			updated_at   = EXCLUDED.updated_at
	`

	queryLoadSaga = `
		SELECT id, saga_type, state, current_step, data, error, created_at, updated_at
		FROM sagas
		WHERE id = $1
	`

	queryFindSagasByState = `
		SELECT id, saga_type, state, current_step, data, error, created_at, updated_at
		FROM sagas
		WHERE state = $1
		ORDER BY created_at ASC
	`

	queryDeleteSaga = `DELETE FROM sagas WHERE id = $1`

	querySaveDeadLetter = `
		INSERT INTO dead_letters (id, event, error, handler, stage, retry_count, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			error       = EXCLUDED.error,
			retry_count = EXCLUDED.retry_count,
			"timestamp" = EXCLUDED."timestamp"
	`

	queryListDeadLetters = `
		SELECT id, event, error, handler, stage, retry_count, "timestamp"
		FROM dead_letters
		ORDER BY "timestamp" ASC, id ASC
	`

	queryDeleteDeadLetter = `DELETE FROM dead_letters WHERE id = $1`
)

// buildQueryEvents renders the filtered event query with positional arguments.
// Only non-zero filter fields contribute a predicate.
func buildQueryEvents(f storage.EventFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(expr string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.AggregateID != "" {
		add("aggregate_id = $%d", f.AggregateID)
	}
	if f.AggregateType != "" {
		add("aggregate_type = $%d", f.AggregateType)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.CorrelationID != "" {
		add("correlation_id = $%d", f.CorrelationID)
	}
	if f.FromVersion > 0 {
		add("version >= $%d", f.FromVersion)
	}
	if f.ToVersion > 0 {
		add("version <= $%d", f.ToVersion)
	}
	if !f.FromTimestamp.IsZero() {
		add(`"timestamp" >= $%d`, f.FromTimestamp)
	}
	if !f.ToTimestamp.IsZero() {
		add(`"timestamp" <= $%d`, f.ToTimestamp)
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(eventColumns)
	b.WriteString("\n\tFROM events")
	if len(conds) > 0 {
		b.WriteString("\n\tWHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\n\tORDER BY \"timestamp\" ASC, version ASC, sequence ASC")

	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, "\n\tLIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, "\n\tOFFSET $%d", len(args))
	}

	return b.String(), args
}
