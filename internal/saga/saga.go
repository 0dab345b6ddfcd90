// Package saga runs ordered workflow steps with compensating rollback.
//
// A saga moves STARTED → PROCESSING → COMPLETED on success. When a step fails
// it moves to COMPENSATING and undoes the steps that completed before it, last
// first, ending in COMPENSATED, or FAILED when a compensation fails too.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/clock"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
)

// StepFunc is one direction of a step. It must honor ctx cancellation.
type StepFunc func(ctx context.Context, values *Values) error

// Step is a named execute/compensate pair. Compensate may be nil for steps
// with nothing to undo.
type Step struct {
	Name       string
	Execute    StepFunc
	Compensate StepFunc
}

// defaultStepGrace is how long a step that overran its deadline may keep
// running before the saga gives up on it.
const defaultStepGrace = 5 * time.Second

// errStepAbandoned marks a step that was still running after its grace
// period. Nothing else may touch the saga's values while it might.
var errStepAbandoned = errors.New("step still running after grace period")

var transitions = map[v1.SagaStatus][]v1.SagaStatus{
	v1.SagaStarted:      {v1.SagaProcessing},
	v1.SagaProcessing:   {v1.SagaCompleted, v1.SagaCompensating},
	v1.SagaCompensating: {v1.SagaCompensated, v1.SagaFailed},
}

func canTransition(from, to v1.SagaStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Saga is one execution of a workflow. Execute runs at most once per instance;
// Data may be called concurrently with it.
type Saga struct {
	mu     sync.RWMutex
	record v1.SagaRecord
	values *Values
	steps  []Step

	clock       clock.Source
	stepTimeout time.Duration
	stepGrace   time.Duration
	persist     func(ctx context.Context, record v1.SagaRecord) error
}

// New creates a saga in STARTED state with a fresh id.
func New(sagaType string, data map[string]interface{}, steps ...Step) *Saga {
	now := clock.Default.Now()
	return build(v1.SagaRecord{
		ID:        clock.Default.NewID(),
		SagaType:  sagaType,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}, steps)
}

// Restore rebuilds a saga from a persisted record, keeping its id, data and
// creation time, and resets it to STARTED at step 0 so it runs again.
func Restore(record v1.SagaRecord, steps ...Step) *Saga {
	return build(record, steps)
}

func build(record v1.SagaRecord, steps []Step) *Saga {
	record = record.Clone()
	record.State = v1.SagaStarted
	record.CurrentStep = 0
	record.Error = ""
	values := newValues(record.Data)
	record.Data = values.Map()
	return &Saga{
		record: record,
		values: values,
		steps:     append([]Step(nil), steps...),
		clock:     clock.Default,
		stepGrace: defaultStepGrace,
	}
}

func (s *Saga) ID() string { return s.record.ID }

func (s *Saga) Type() string { return s.record.SagaType }

func (s *Saga) State() v1.SagaStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.State
}

// Data returns a deep copy of the current record.
func (s *Saga) Data() v1.SagaRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Clone()
}

// Execute runs every step in order, persisting after each transition. On a
// step failure it compensates the completed steps in reverse and returns a
// *coreerr.StepError whose Compensated flag tells the two outcomes apart.
// Compensation ignores cancellation of ctx; only the step deadline bounds it.
// A step abandoned past its grace period ends the saga FAILED uncompensated.
func (s *Saga) Execute(ctx context.Context) error {
	if state := s.State(); state != v1.SagaStarted {
		return coreerr.Validationf("state", "saga %s already ran (state %s)", s.record.ID, state)
	}
	if len(s.steps) == 0 {
		return coreerr.Validationf("steps", "saga %s has no steps", s.record.ID)
	}

	s.update(ctx, func(r *v1.SagaRecord) { r.State = v1.SagaProcessing })

	for i, step := range s.steps {
		s.update(ctx, func(r *v1.SagaRecord) { r.CurrentStep = i })

		err := s.run(ctx, step.Name, step.Execute)
		if err == nil {
			slog.Debug("[Saga] Step completed",
				"saga_id", s.record.ID,
				"saga_type", s.record.SagaType,
				"step", step.Name,
				"index", i)
			s.update(ctx, nil)
			continue
		}

		slog.Warn("[Saga] Step failed, compensating",
			"saga_id", s.record.ID,
			"saga_type", s.record.SagaType,
			"step", step.Name,
			"index", i,
			"error", err)
		s.update(ctx, func(r *v1.SagaRecord) {
			r.State = v1.SagaCompensating
			r.Error = fmt.Sprintf("step %q: %v", step.Name, err)
		})

		stepErr := &coreerr.StepError{
			SagaID:   s.record.ID,
			SagaType: s.record.SagaType,
			Step:     step.Name,
			Index:    i,
			Err:      err,
		}

		if errors.Is(err, errStepAbandoned) {
			slog.Error("[Saga] Step abandoned, compensation skipped, operator intervention required",
				"saga_id", s.record.ID,
				"saga_type", s.record.SagaType,
				"step", step.Name,
				"index", i)
			s.update(ctx, func(r *v1.SagaRecord) {
				r.State = v1.SagaFailed
				r.Error = fmt.Sprintf("step %q: %v; compensation skipped", step.Name, err)
			})
			return stepErr
		}

		if compErr := s.compensate(context.WithoutCancel(ctx), i); compErr != nil {
			stepErr.Err = errors.Join(err, compErr)
			s.update(ctx, func(r *v1.SagaRecord) {
				r.State = v1.SagaFailed
				r.Error = fmt.Sprintf("step %q: %v; %v", step.Name, err, compErr)
			})
			return stepErr
		}

		stepErr.Compensated = true
		s.update(ctx, func(r *v1.SagaRecord) { r.State = v1.SagaCompensated })
		return stepErr
	}

	s.update(ctx, func(r *v1.SagaRecord) { r.State = v1.SagaCompleted })
	slog.Info("[Saga] Completed",
		"saga_id", s.record.ID,
		"saga_type", s.record.SagaType,
		"steps", len(s.steps))
	return nil
}

// compensate undoes steps [0, failed) in reverse order and stops at the
// first compensation that fails.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := s.run(ctx, step.Name, step.Compensate); err != nil {
			slog.Error("[Saga] Compensation failed, operator intervention required",
				"saga_id", s.record.ID,
				"saga_type", s.record.SagaType,
				"step", step.Name,
				"index", i,
				"error", err)
			return fmt.Errorf("compensate %q: %w", step.Name, err)
		}
		slog.Info("[Saga] Step compensated",
			"saga_id", s.record.ID,
			"step", step.Name,
			"index", i)
	}
	return nil
}

// run executes fn under the step deadline and converts panics into errors.
// Once the deadline passes or ctx is cancelled, run still waits up to the
// grace period for fn to return, so steps never overlap.
func (s *Saga) run(ctx context.Context, name string, fn StepFunc) error {
	if fn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("step %q not started: %w", name, err)
	}
	if s.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.stepTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("step %q panicked: %v", name, r)
			}
		}()
		done <- fn(ctx, s.values)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	grace := time.NewTimer(s.stepGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		if err == nil {
			slog.Warn("[Saga] Step returned after its deadline",
				"saga_id", s.record.ID,
				"step", name)
		}
		return err
	case <-grace.C:
		return fmt.Errorf("step %q: %w: %w", name, errStepAbandoned, ctx.Err())
	}
}

// update applies mutate, refreshes data and timestamps, then persists.
// Persistence failures are logged; the run continues so the final state is
// still reported to the caller.
func (s *Saga) update(ctx context.Context, mutate func(r *v1.SagaRecord)) {
	s.mu.Lock()
	if mutate != nil {
		prev := s.record.State
		mutate(&s.record)
		if s.record.State != prev && !canTransition(prev, s.record.State) {
			s.mu.Unlock()
			panic(fmt.Sprintf("saga: illegal transition %s -> %s", prev, s.record.State))
		}
	}
	s.record.Data = s.values.Map()
	s.record.UpdatedAt = s.clock.Now()
	snapshot := s.record.Clone()
	persist := s.persist
	s.mu.Unlock()

	if persist == nil {
		return
	}
	if err := persist(context.WithoutCancel(ctx), snapshot); err != nil {
		slog.Error("[Saga] Failed to persist state",
			"saga_id", snapshot.ID,
			"state", snapshot.State,
			"current_step", snapshot.CurrentStep,
			"error", err)
	}
}
