package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage/memory"
	"github.com/aevon-lab/eventcore/internal/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type countingRecorder struct {
	mu       sync.Mutex
	attempts map[string]int
	failures map[string]int
}

func (c *countingRecorder) RecordDispatch(eventType string, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts == nil {
		c.attempts, c.failures = map[string]int{}, map[string]int{}
	}
	c.attempts[eventType]++
	if err != nil {
		c.failures[eventType]++
	}
}

func newTestBus(t *testing.T, opts Options, options ...Option) (*Bus, *memory.Store, *delayRecorder) {
	t.Helper()
	repo := memory.NewStore()
	options = append([]Option{WithDeadLetterRepository(repo)}, options...)
	bus := New(eventstore.New(repo), opts, options...)
	rec := &delayRecorder{}
	bus.sleep = rec.sleep
	return bus, repo, rec
}

func testEvent(eventType string) v1.DomainEvent {
	return v1.NewDomainEvent("Order", "order-"+eventType, eventType, 1, map[string]interface{}{"ok": true})
}

func TestBus_RetryThenSucceed(t *testing.T) {
	bus, _, rec := newTestBus(t, DefaultOptions())

	var calls int
	bus.Subscribe("OrderPlaced", HandlerFunc("flaky", func(ctx context.Context, e v1.DomainEvent) error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))
	assert.Equal(t, 3, calls)
	assert.Empty(t, bus.DeadLetters())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestBus_ExhaustedHandlerIsDeadLetteredOnce(t *testing.T) {
	counter := &countingRecorder{}
	bus, repo, rec := newTestBus(t, DefaultOptions(), WithRecorder(counter))

	var calls int
	bus.Subscribe("OrderPlaced", HandlerFunc("broken", func(ctx context.Context, e v1.DomainEvent) error {
		calls++
		return errors.New("always")
	}))

	event := testEvent("OrderPlaced")
	require.NoError(t, bus.Publish(context.Background(), event), "handler failures never fail the publish")

	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)

	letters := bus.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, event.EventID, letters[0].Event.EventID)
	assert.Equal(t, "broken", letters[0].Handler)
	assert.Equal(t, v1.StageHandler, letters[0].Stage)
	assert.Equal(t, 3, letters[0].RetryCount)
	assert.Contains(t, letters[0].Error, "always")

	persisted, err := repo.ListDeadLetters(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted, 1)

	assert.Equal(t, 4, counter.attempts["OrderPlaced"])
	assert.Equal(t, 4, counter.failures["OrderPlaced"])

	m := bus.Metrics()
	assert.Equal(t, int64(1), m.Published)
	assert.Equal(t, int64(4), m.Attempts)
	assert.Equal(t, int64(1), m.DeadLettered)
	assert.Equal(t, 1, m.DeadLetterQueueSize)
}

func TestBus_HandlersAreIsolated(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 0
	bus, _, _ := newTestBus(t, opts)

	var good atomic.Int32
	bus.Subscribe("OrderPlaced", HandlerFunc("bad", func(ctx context.Context, e v1.DomainEvent) error {
		return errors.New("nope")
	}))
	bus.Subscribe("OrderPlaced", HandlerFunc("good", func(ctx context.Context, e v1.DomainEvent) error {
		good.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))
	assert.Equal(t, int32(1), good.Load())
	assert.Len(t, bus.DeadLetters(), 1)
}

func TestBus_HandlersOfOneEventRunConcurrently(t *testing.T) {
	bus, _, _ := newTestBus(t, DefaultOptions())

	release := make(chan struct{})
	bus.Subscribe("OrderPlaced", HandlerFunc("waiter", func(ctx context.Context, e v1.DomainEvent) error {
		select {
		case <-release:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("never released")
		}
	}))
	bus.Subscribe("OrderPlaced", HandlerFunc("releaser", func(ctx context.Context, e v1.DomainEvent) error {
		close(release)
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))
	assert.Empty(t, bus.DeadLetters())
}

func TestBus_HandlerTimeoutAndPanicCountAsFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		wantErr string
	}{
		{
			name: "hung handler",
			handler: HandlerFunc("hung", func(ctx context.Context, e v1.DomainEvent) error {
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return nil
			}),
			wantErr: "deadline exceeded",
		},
		{
			name: "panicking handler",
			handler: HandlerFunc("panics", func(ctx context.Context, e v1.DomainEvent) error {
				panic("boom")
			}),
			wantErr: "handler panicked: boom",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.MaxRetries = 0
			opts.HandlerTimeout = 20 * time.Millisecond
			bus, _, _ := newTestBus(t, opts)
			bus.Subscribe("OrderPlaced", tc.handler)

			require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))

			letters := bus.DeadLetters()
			require.Len(t, letters, 1)
			assert.Contains(t, letters[0].Error, tc.wantErr)
		})
	}
}

func TestBus_TimedOutAttemptFinishesBeforeRetry(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 1
	opts.HandlerTimeout = 20 * time.Millisecond
	bus, _, _ := newTestBus(t, opts)

	var running, maxRunning, calls atomic.Int32
	bus.Subscribe("OrderPlaced", HandlerFunc("slow", func(ctx context.Context, e v1.DomainEvent) error {
		calls.Add(1)
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), maxRunning.Load())
	letters := bus.DeadLetters()
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Error, "returned after deadline")
	assert.Equal(t, 1, letters[0].RetryCount)
}

func TestBus_AbandonedHandlerIsNotRetried(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 3
	opts.HandlerTimeout = 20 * time.Millisecond
	opts.HandlerGrace = 30 * time.Millisecond
	bus, _, _ := newTestBus(t, opts)

	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	bus.Subscribe("OrderPlaced", HandlerFunc("stuck", func(ctx context.Context, e v1.DomainEvent) error {
		calls.Add(1)
		<-release
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))

	assert.Equal(t, int32(1), calls.Load())
	letters := bus.DeadLetters()
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Error, "still running after grace period")
	assert.Equal(t, 0, letters[0].RetryCount)
}

func TestBus_SubscribeIsIdempotentAndUnsubscribeTearsDown(t *testing.T) {
	bus, _, _ := newTestBus(t, DefaultOptions())

	var calls atomic.Int32
	h := HandlerFunc("once", func(ctx context.Context, e v1.DomainEvent) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe("OrderPlaced", h)
	bus.Subscribe("OrderPlaced", h)
	assert.Equal(t, 1, bus.HandlerCount("OrderPlaced"))

	require.NoError(t, bus.Publish(context.Background(), testEvent("OrderPlaced")))
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, bus.Unsubscribe("OrderPlaced", h))
	assert.False(t, bus.Unsubscribe("OrderPlaced", h))
	assert.Zero(t, bus.HandlerCount("OrderPlaced"))
	_, ok := bus.Metrics().Subscriptions["OrderPlaced"]
	assert.False(t, ok)
}

type failingAppender struct {
	err   error
	calls int
}

func (f *failingAppender) Append(ctx context.Context, e v1.DomainEvent) (*v1.StoredEvent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &v1.StoredEvent{DomainEvent: e}, nil
}

func (f *failingAppender) AppendBatch(ctx context.Context, es []v1.DomainEvent) ([]*v1.StoredEvent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func TestBus_PublishFailures(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantDeadLetter bool
	}{
		{name: "storage outage is dead-lettered", err: errors.New("db down"), wantDeadLetter: true},
		{name: "version conflict is not", err: &coreerr.ConcurrencyError{AggregateID: "a", Version: 1, Current: 1}},
		{name: "validation is not", err: coreerr.Validationf("event", "bad")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &failingAppender{err: tc.err}
			bus := New(store, DefaultOptions())

			var dispatched bool
			bus.Subscribe("OrderPlaced", HandlerFunc("h", func(ctx context.Context, e v1.DomainEvent) error {
				dispatched = true
				return nil
			}))

			err := bus.Publish(context.Background(), testEvent("OrderPlaced"))
			require.ErrorIs(t, err, tc.err)
			assert.False(t, dispatched, "unstored events are never dispatched")

			letters := bus.DeadLetters()
			if tc.wantDeadLetter {
				require.Len(t, letters, 1)
				assert.Equal(t, v1.StagePublish, letters[0].Stage)
			} else {
				assert.Empty(t, letters)
			}
		})
	}
}

type rejectAll struct{}

func (rejectAll) Validate(ctx context.Context, e v1.DomainEvent) error {
	return errors.New("missing field score")
}

func TestBus_ValidatorRejectsBeforeAppend(t *testing.T) {
	store := &failingAppender{}
	bus := New(store, DefaultOptions(), WithValidator(rejectAll{}))

	err := bus.Publish(context.Background(), testEvent("OrderPlaced"))
	require.ErrorIs(t, err, coreerr.ErrValidation)
	assert.Zero(t, store.calls)
	assert.Empty(t, bus.DeadLetters())
}

func TestBus_PublishBatchDispatchesInOrder(t *testing.T) {
	bus, _, _ := newTestBus(t, DefaultOptions())

	var seen []int64
	bus.Subscribe("OrderUpdated", HandlerFunc("collect", func(ctx context.Context, e v1.DomainEvent) error {
		seen = append(seen, e.Version)
		return nil
	}))

	batch := []v1.DomainEvent{
		v1.NewDomainEvent("Order", "o-1", "OrderUpdated", 1, nil),
		v1.NewDomainEvent("Order", "o-1", "OrderUpdated", 2, nil),
		v1.NewDomainEvent("Order", "o-1", "OrderUpdated", 3, nil),
	}
	require.NoError(t, bus.PublishBatch(context.Background(), batch))
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestBus_RetryDeadLetters(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 1
	bus, repo, _ := newTestBus(t, opts)
	ctx := context.Background()

	var healthy atomic.Bool
	bus.Subscribe("OrderPlaced", HandlerFunc("mailer", func(ctx context.Context, e v1.DomainEvent) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("smtp down")
	}))
	var otherCalls atomic.Int32
	bus.Subscribe("OrderPlaced", HandlerFunc("audit", func(ctx context.Context, e v1.DomainEvent) error {
		otherCalls.Add(1)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, testEvent("OrderPlaced")))
	require.Len(t, bus.DeadLetters(), 1)

	report, err := bus.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, RetryReport{Attempted: 1, Requeued: 1}, report)
	letters := bus.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, 1+2, letters[0].RetryCount, "retries accumulate")

	healthy.Store(true)
	report, err = bus.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, RetryReport{Attempted: 1, Recovered: 1}, report)
	assert.Empty(t, bus.DeadLetters())
	assert.Equal(t, int32(1), otherCalls.Load(), "only the failed handler is redelivered")

	persisted, err := repo.ListDeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestBus_RetryPublishStageDeadLetter(t *testing.T) {
	store := &failingAppender{err: errors.New("db down")}
	bus := New(store, DefaultOptions())
	ctx := context.Background()

	var dispatched atomic.Int32
	bus.Subscribe("OrderPlaced", HandlerFunc("h", func(ctx context.Context, e v1.DomainEvent) error {
		dispatched.Add(1)
		return nil
	}))

	require.Error(t, bus.Publish(ctx, testEvent("OrderPlaced")))
	require.Len(t, bus.DeadLetters(), 1)

	store.err = nil
	report, err := bus.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, int32(1), dispatched.Load())
}

func TestBus_RetryDropsConflictingPublishDeadLetter(t *testing.T) {
	repo := memory.NewStore()
	ctx := context.Background()
	bus := New(eventstore.New(repo), DefaultOptions(), WithDeadLetterRepository(repo))

	taken := testEvent("OrderPlaced")
	require.NoError(t, bus.Publish(ctx, taken))

	stale := v1.DeadLetter{
		ID:        "d-stale",
		Event:     v1.NewDomainEvent(taken.AggregateType, taken.AggregateID, "OrderPlaced", 1, nil),
		Error:     "db down",
		Stage:     v1.StagePublish,
		Timestamp: time.Now(),
	}
	require.NoError(t, repo.SaveDeadLetter(ctx, stale))
	require.NoError(t, bus.LoadDeadLetters(ctx))

	for i := 0; i < 2; i++ {
		report, err := bus.RetryDeadLetters(ctx)
		require.NoError(t, err)
		want := RetryReport{Attempted: 1, Dropped: 1}
		if i == 1 {
			want = RetryReport{}
		}
		assert.Equal(t, want, report)
	}
	assert.Empty(t, bus.DeadLetters())

	persisted, err := repo.ListDeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestBus_LoadAndDiscardDeadLetters(t *testing.T) {
	repo := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, repo.SaveDeadLetter(ctx, v1.DeadLetter{ID: "d1", Stage: v1.StagePublish, Timestamp: time.Now()}))

	bus := New(eventstore.New(repo), DefaultOptions(), WithDeadLetterRepository(repo))
	require.NoError(t, bus.LoadDeadLetters(ctx))
	require.Len(t, bus.DeadLetters(), 1)

	found, err := bus.DiscardDeadLetter(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, bus.DeadLetters())

	found, err = bus.DiscardDeadLetter(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBus_ReplayDoesNotAppend(t *testing.T) {
	bus, repo, _ := newTestBus(t, DefaultOptions())
	ctx := context.Background()

	var calls atomic.Int32
	bus.Subscribe("OrderPlaced", HandlerFunc("h", func(ctx context.Context, e v1.DomainEvent) error {
		calls.Add(1)
		return nil
	}))

	event := testEvent("OrderPlaced")
	require.NoError(t, bus.Publish(ctx, event))
	require.NoError(t, bus.Replay(ctx, event, event))

	assert.Equal(t, int32(3), calls.Load())
	count, err := repo.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
