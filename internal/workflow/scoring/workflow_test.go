package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage/memory"
	"github.com/aevon-lab/eventcore/internal/eventbus"
	"github.com/aevon-lab/eventcore/internal/eventstore"
	"github.com/aevon-lab/eventcore/internal/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyPublisher fails the first n publishes of selected event types.
type flakyPublisher struct {
	next Publisher

	mu    sync.Mutex
	fails map[string]int
}

func (p *flakyPublisher) Publish(ctx context.Context, event v1.DomainEvent) error {
	p.mu.Lock()
	if p.fails[event.EventType] > 0 {
		p.fails[event.EventType]--
		p.mu.Unlock()
		return errors.New("broker unavailable")
	}
	p.mu.Unlock()
	return p.next.Publish(ctx, event)
}

type fixture struct {
	store    *eventstore.Store
	bus      *eventbus.Bus
	repo     *memory.Store
	manager  *saga.Manager
	workflow *Workflow
	flaky    *flakyPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewStore()
	store := eventstore.New(repo)
	opts := eventbus.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	bus := eventbus.New(store, opts)

	scorer, err := NewScorer(map[string]float64{"accuracy": 3}, 70, 2)
	require.NoError(t, err)

	flaky := &flakyPublisher{next: bus, fails: map[string]int{}}
	wf := New(flaky, store, scorer)
	manager := saga.NewManager(repo, saga.WithStepTimeout(time.Second))
	wf.Register(manager)

	return &fixture{store: store, bus: bus, repo: repo, manager: manager, workflow: wf, flaky: flaky}
}

func (f *fixture) eventTypes(t *testing.T, requestID string) []string {
	t.Helper()
	stream, err := f.store.GetStream(context.Background(), requestID, AggregateType, 0)
	require.NoError(t, err)
	types := make([]string, len(stream.Events))
	for i, e := range stream.Events {
		types[i] = e.EventType
	}
	return types
}

func TestWorkflow_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var completed []v1.DomainEvent
	var mu sync.Mutex
	f.bus.Subscribe(EventCompleted, eventbus.HandlerFunc("capture", func(_ context.Context, e v1.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, e)
		return nil
	}))

	s, err := f.workflow.NewSaga(Request{
		RequestID: "req-1",
		Model:     "baseline",
		Signals:   map[string]interface{}{"accuracy": float64(90), "latency": float64(50)},
	})
	require.NoError(t, err)
	require.NoError(t, f.manager.StartSaga(ctx, s))

	assert.Equal(t, []string{EventRequested, EventLogged, EventProcessed, EventCompleted}, f.eventTypes(t, "req-1"))

	stream, err := f.store.GetStream(ctx, "req-1", AggregateType, 0)
	require.NoError(t, err)
	for i, e := range stream.Events {
		assert.Equal(t, int64(i+1), e.Version)
		assert.Equal(t, "req-1", e.CorrelationID)
		if i > 0 {
			assert.Equal(t, stream.Events[i-1].EventID, e.CausationID)
		}
	}

	require.Len(t, completed, 1)
	assert.Equal(t, "80", completed[0].Payload["score"])
	assert.Equal(t, "pass", completed[0].Payload["grade"])

	data := s.Data()
	assert.Equal(t, v1.SagaCompleted, data.State)
	assert.Equal(t, "80", data.Data["score"])
}

func TestWorkflow_ProcessFailureCompensates(t *testing.T) {
	f := newFixture(t)
	s, err := f.workflow.NewSaga(Request{
		RequestID: "req-2",
		Model:     "baseline",
		Signals:   map[string]interface{}{"accuracy": float64(140)},
	})
	require.NoError(t, err)

	err = f.manager.StartSaga(context.Background(), s)

	var stepErr *coreerr.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "process", stepErr.Step)
	assert.True(t, stepErr.Compensated)
	assert.Equal(t, []string{EventRequested, EventLogged, EventLogVoided, EventCancelled}, f.eventTypes(t, "req-2"))
	assert.Equal(t, v1.SagaCompensated, s.State())
}

func TestWorkflow_FailedSagaIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.flaky.fails[EventProcessed] = 1
	f.flaky.fails[EventLogVoided] = 1

	s, err := f.workflow.NewSaga(Request{
		RequestID: "req-3",
		Model:     "premium",
		Signals:   map[string]interface{}{"accuracy": float64(40)},
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.manager.StartSaga(ctx, s), coreerr.ErrStep)
	require.Equal(t, v1.SagaFailed, s.State())
	assert.Equal(t, []string{EventRequested, EventLogged}, f.eventTypes(t, "req-3"))

	results, err := f.manager.RetryFailedSagas(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, v1.SagaCompleted, results[0].State)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, []string{
		EventRequested, EventLogged,
		EventRequested, EventLogged, EventProcessed, EventCompleted,
	}, f.eventTypes(t, "req-3"))

	record, err := f.repo.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, v1.SagaCompleted, record.State)
	assert.Equal(t, "40", record.Data["score"])
	assert.Equal(t, false, record.Data["passed"])
}

func TestWorkflow_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"missing request id", Request{Model: "m", Signals: map[string]interface{}{"a": 1}}, "request_id"},
		{"missing model", Request{RequestID: "r", Signals: map[string]interface{}{"a": 1}}, "model"},
		{"missing signals", Request{RequestID: "r", Model: "m"}, "signals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.workflow.NewSaga(tt.req)
			var ve *coreerr.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestWorkflow_Restore(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Restore(v1.SagaRecord{ID: "s1", SagaType: "Other"})
	assert.Error(t, err)

	_, err = f.workflow.Restore(v1.SagaRecord{ID: "s1", SagaType: SagaType, Data: map[string]interface{}{}})
	assert.Error(t, err)

	s, err := f.workflow.Restore(v1.SagaRecord{
		ID:       "s1",
		SagaType: SagaType,
		State:    v1.SagaFailed,
		Data:     map[string]interface{}{"request_id": "req-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID())
	assert.Equal(t, v1.SagaStarted, s.State())
}
