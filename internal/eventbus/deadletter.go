package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RetryReport summarizes one RetryDeadLetters pass.
type RetryReport struct {
	Attempted int `json:"attempted"`
	Recovered int `json:"recovered"`
	Requeued  int `json:"requeued"`
	// Dropped counts publish-stage entries whose event conflicts with the
	// stored stream. They are removed, never retried again.
	Dropped int `json:"dropped"`
}

// enqueue records a dead letter in memory and, when configured, in the repository.
func (b *Bus) enqueue(ctx context.Context, letter v1.DeadLetter) {
	if letter.ID == "" {
		letter.ID = gonanoid.Must()
	}
	if letter.Timestamp.IsZero() {
		letter.Timestamp = b.clock.Now()
	}
	letter.Event = letter.Event.Clone()

	b.dlqMu.Lock()
	b.deadLetters = append(b.deadLetters, letter)
	b.dlqMu.Unlock()
	b.deadLettered.Add(1)

	b.persist(ctx, letter)

	slog.Error("[EventBus] Event dead-lettered",
		"dead_letter_id", letter.ID,
		"stage", letter.Stage,
		"handler", letter.Handler,
		"event_id", letter.Event.EventID,
		"event_type", letter.Event.EventType,
		"retry_count", letter.RetryCount,
		"error", letter.Error)
}

func (b *Bus) persist(ctx context.Context, letter v1.DeadLetter) {
	if b.dlqRepo == nil {
		return
	}
	// the publish may have been cancelled; the entry must still be recorded
	if err := b.dlqRepo.SaveDeadLetter(context.WithoutCancel(ctx), letter); err != nil {
		slog.Error("[EventBus] Failed to persist dead letter",
			"dead_letter_id", letter.ID,
			"event_id", letter.Event.EventID,
			"error", err)
	}
}

// DeadLetters returns a copy of the queue, oldest first.
func (b *Bus) DeadLetters() []v1.DeadLetter {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := make([]v1.DeadLetter, len(b.deadLetters))
	for i, d := range b.deadLetters {
		d.Event = d.Event.Clone()
		out[i] = d
	}
	return out
}

func (b *Bus) DeadLetterCount() int {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	return len(b.deadLetters)
}

// LoadDeadLetters replaces the in-memory queue with the persisted one.
func (b *Bus) LoadDeadLetters(ctx context.Context) error {
	if b.dlqRepo == nil {
		return nil
	}
	letters, err := b.dlqRepo.ListDeadLetters(ctx)
	if err != nil {
		return fmt.Errorf("load dead letters: %w", err)
	}

	b.dlqMu.Lock()
	b.deadLetters = letters
	b.dlqMu.Unlock()

	slog.Info("[EventBus] Dead-letter queue loaded", "count", len(letters))
	return nil
}

// DiscardDeadLetter drops one entry without redelivering it.
func (b *Bus) DiscardDeadLetter(ctx context.Context, id string) (bool, error) {
	b.dlqMu.Lock()
	found := false
	for i, d := range b.deadLetters {
		if d.ID == id {
			b.deadLetters = append(b.deadLetters[:i:i], b.deadLetters[i+1:]...)
			found = true
			break
		}
	}
	b.dlqMu.Unlock()

	if !found {
		return false, nil
	}
	if b.dlqRepo != nil {
		if err := b.dlqRepo.DeleteDeadLetter(ctx, id); err != nil {
			return true, fmt.Errorf("delete dead letter %s: %w", id, err)
		}
	}
	return true, nil
}

// RetryDeadLetters redrives every queued entry once. Publish-stage entries are
// appended and dispatched again; handler-stage entries go back to the handler
// that failed them. Entries that fail again are requeued with their retry
// count accumulated, except publish-stage version conflicts, which are dropped.
func (b *Bus) RetryDeadLetters(ctx context.Context) (RetryReport, error) {
	b.dlqMu.Lock()
	pending := b.deadLetters
	b.deadLetters = nil
	b.dlqMu.Unlock()

	report := RetryReport{Attempted: len(pending)}
	for i, letter := range pending {
		if err := ctx.Err(); err != nil {
			b.restore(pending[i:])
			report.Requeued += len(pending) - i
			return report, err
		}

		attempts, err := b.redrive(ctx, letter)
		if err == nil {
			report.Recovered++
			if b.dlqRepo != nil {
				if derr := b.dlqRepo.DeleteDeadLetter(ctx, letter.ID); derr != nil {
					slog.Error("[EventBus] Failed to delete recovered dead letter",
						"dead_letter_id", letter.ID,
						"error", derr)
				}
			}
			continue
		}

		if letter.Stage == v1.StagePublish && errors.Is(err, coreerr.ErrConcurrency) {
			report.Dropped++
			slog.Warn("[EventBus] Dropping dead letter that conflicts with the stored stream",
				"dead_letter_id", letter.ID,
				"event_id", letter.Event.EventID,
				"aggregate_id", letter.Event.AggregateID,
				"version", letter.Event.Version,
				"error", err)
			if b.dlqRepo != nil {
				if derr := b.dlqRepo.DeleteDeadLetter(ctx, letter.ID); derr != nil {
					slog.Error("[EventBus] Failed to delete dropped dead letter",
						"dead_letter_id", letter.ID,
						"error", derr)
				}
			}
			continue
		}

		letter.Error = err.Error()
		letter.RetryCount += attempts
		letter.Timestamp = b.clock.Now()
		b.restore([]v1.DeadLetter{letter})
		b.persist(ctx, letter)
		report.Requeued++
	}

	slog.Info("[EventBus] Dead-letter retry finished",
		"attempted", report.Attempted,
		"recovered", report.Recovered,
		"requeued", report.Requeued,
		"dropped", report.Dropped)
	return report, nil
}

func (b *Bus) restore(letters []v1.DeadLetter) {
	b.dlqMu.Lock()
	b.deadLetters = append(b.deadLetters, letters...)
	b.dlqMu.Unlock()
}

func (b *Bus) redrive(ctx context.Context, letter v1.DeadLetter) (int, error) {
	event := letter.Event

	if letter.Stage == v1.StagePublish {
		if _, err := b.store.Append(ctx, event); err != nil {
			return 1, err
		}
		b.published.Add(1)
		b.dispatch(ctx, event)
		return 1, nil
	}

	h := b.handlerNamed(event.EventType, letter.Handler)
	if h == nil {
		return 0, fmt.Errorf("handler %q is not subscribed to %s", letter.Handler, event.EventType)
	}
	if herr := b.deliver(ctx, h, event); herr != nil {
		return herr.Attempts, herr
	}
	return 0, nil
}
