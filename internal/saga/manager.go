package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/clock"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage"
)

// Factory rebuilds a runnable saga of one type from its persisted record,
// typically by calling Restore with the type's steps.
type Factory func(record v1.SagaRecord) (*Saga, error)

// RetryResult reports one failed saga picked up by RetryFailedSagas.
type RetryResult struct {
	SagaID   string        `json:"saga_id"`
	SagaType string        `json:"saga_type"`
	State    v1.SagaStatus `json:"state"`
	Error    string        `json:"error,omitempty"`
}

// Manager runs sagas against a persistence collaborator and tracks the ones
// that have not completed.
type Manager struct {
	repo        storage.SagaRepository
	clock       clock.Source
	stepTimeout time.Duration
	stepGrace   time.Duration

	mu     sync.RWMutex
	active map[string]*Saga

	typesMu   sync.RWMutex
	factories map[string]Factory
}

type ManagerOption func(*Manager)

func WithClock(src clock.Source) ManagerOption {
	return func(m *Manager) { m.clock = src }
}

// WithStepTimeout bounds every execute and compensate call.
func WithStepTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.stepTimeout = d }
}

// WithStepGrace sets how long a step may run past its deadline before it is
// abandoned and the saga ends FAILED.
func WithStepGrace(d time.Duration) ManagerOption {
	return func(m *Manager) { m.stepGrace = d }
}

func NewManager(repo storage.SagaRepository, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:      repo,
		clock:     clock.Default,
		stepGrace: defaultStepGrace,
		active:    make(map[string]*Saga),
		factories: make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterType makes sagaType retryable by RetryFailedSagas.
func (m *Manager) RegisterType(sagaType string, factory Factory) {
	m.typesMu.Lock()
	defer m.typesMu.Unlock()
	m.factories[sagaType] = factory
}

func (m *Manager) factory(sagaType string) (Factory, bool) {
	m.typesMu.RLock()
	defer m.typesMu.RUnlock()
	f, ok := m.factories[sagaType]
	return f, ok
}

// StartSaga persists the initial state, executes the saga and persists the
// final state before returning. Only completed sagas leave the active set.
// Execution errors are returned after the final state is stored.
func (m *Manager) StartSaga(ctx context.Context, s *Saga) error {
	s.mu.Lock()
	s.clock = m.clock
	s.stepTimeout = m.stepTimeout
	s.stepGrace = m.stepGrace
	s.persist = m.repo.Save
	initial := s.record.Clone()
	s.mu.Unlock()

	if err := m.repo.Save(ctx, initial); err != nil {
		return fmt.Errorf("failed to persist saga %s: %w", initial.ID, err)
	}

	m.mu.Lock()
	m.active[initial.ID] = s
	m.mu.Unlock()

	slog.Info("[SagaManager] Saga started",
		"saga_id", initial.ID,
		"saga_type", initial.SagaType,
		"steps", len(s.steps))

	execErr := s.Execute(ctx)

	final := s.Data()
	saveErr := m.repo.Save(context.WithoutCancel(ctx), final)
	if saveErr != nil {
		slog.Error("[SagaManager] Failed to persist final state",
			"saga_id", final.ID,
			"state", final.State,
			"error", saveErr)
	}

	if final.State == v1.SagaCompleted {
		m.mu.Lock()
		delete(m.active, final.ID)
		m.mu.Unlock()
	}

	if execErr != nil {
		if final.State == v1.SagaFailed {
			slog.Error("[SagaManager] Saga failed",
				"saga_id", final.ID,
				"saga_type", final.SagaType,
				"error", execErr)
		}
		return execErr
	}
	if saveErr != nil {
		return fmt.Errorf("failed to persist saga %s: %w", final.ID, saveErr)
	}
	return nil
}

// GetActiveSaga returns a copy of an in-flight or unfinished saga's state.
func (m *Manager) GetActiveSaga(sagaID string) (v1.SagaRecord, bool) {
	m.mu.RLock()
	s, ok := m.active[sagaID]
	m.mu.RUnlock()
	if !ok {
		return v1.SagaRecord{}, false
	}
	return s.Data(), true
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveSagas returns copies of every active saga, oldest first.
func (m *Manager) ActiveSagas() []v1.SagaRecord {
	m.mu.RLock()
	out := make([]v1.SagaRecord, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s.Data())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetSagaState prefers the live view and falls back to the repository.
func (m *Manager) GetSagaState(ctx context.Context, sagaID string) (*v1.SagaRecord, error) {
	if record, ok := m.GetActiveSaga(sagaID); ok {
		return &record, nil
	}
	record, err := m.repo.Load(ctx, sagaID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &coreerr.NotFoundError{Resource: "saga", Key: sagaID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga %s: %w", sagaID, err)
	}
	return record, nil
}

// FindByState lists persisted sagas in state.
func (m *Manager) FindByState(ctx context.Context, state v1.SagaStatus) ([]*v1.SagaRecord, error) {
	records, err := m.repo.FindByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to find sagas in state %s: %w", state, err)
	}
	return records, nil
}

// RetryFailedSagas rebuilds every FAILED saga through its registered Factory
// and runs it again from step 0. Sagas without a factory stay FAILED and are
// reported with an error. Individual failures never stop the sweep.
func (m *Manager) RetryFailedSagas(ctx context.Context) ([]RetryResult, error) {
	records, err := m.repo.FindByState(ctx, v1.SagaFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed sagas: %w", err)
	}

	results := make([]RetryResult, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, m.retry(ctx, *record))
	}

	slog.Info("[SagaManager] Retried failed sagas",
		"count", len(results))
	return results, nil
}

func (m *Manager) retry(ctx context.Context, record v1.SagaRecord) RetryResult {
	result := RetryResult{SagaID: record.ID, SagaType: record.SagaType, State: record.State}

	factory, ok := m.factory(record.SagaType)
	if !ok {
		result.Error = fmt.Sprintf("no factory registered for saga type %q", record.SagaType)
		slog.Warn("[SagaManager] Cannot retry saga",
			"saga_id", record.ID,
			"saga_type", record.SagaType,
			"error", result.Error)
		return result
	}

	s, err := factory(record)
	if err == nil && (s == nil || s.ID() != record.ID) {
		err = fmt.Errorf("factory for %q did not restore saga %s", record.SagaType, record.ID)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	m.mu.Lock()
	delete(m.active, record.ID)
	m.mu.Unlock()

	if err := m.StartSaga(ctx, s); err != nil {
		result.Error = err.Error()
	}
	result.State = s.State()
	return result
}
