// Package eventbus persists published events and fans them out to in-process
// handlers with bounded retry and a dead-letter queue.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/clock"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// Appender is the part of the event store the bus writes through.
type Appender interface {
	Append(ctx context.Context, event v1.DomainEvent) (*v1.StoredEvent, error)
	AppendBatch(ctx context.Context, events []v1.DomainEvent) ([]*v1.StoredEvent, error)
}

// Validator checks an event before it is appended.
type Validator interface {
	Validate(ctx context.Context, event v1.DomainEvent) error
}

// Recorder observes every handler attempt.
type Recorder interface {
	RecordDispatch(eventType string, duration time.Duration, err error)
}

type Options struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	// RetryDelay is the base of the exponential backoff: RetryDelay * 2^retry.
	RetryDelay time.Duration
	// HandlerTimeout bounds a single handler attempt. Zero disables it.
	HandlerTimeout time.Duration
	// HandlerGrace is how long an attempt may run past HandlerTimeout before
	// it is abandoned. An abandoned handler is not retried. Zero means 5s.
	HandlerGrace time.Duration
	// MaxConcurrentHandlers bounds how many handlers of one event run at once.
	MaxConcurrentHandlers int
	// DeadLetterPublishFailures dead-letters events whose append failed for
	// reasons other than a version conflict or validation.
	DeadLetterPublishFailures bool
}

const defaultHandlerGrace = 5 * time.Second

// errHandlerAbandoned marks an attempt still running after its grace period.
var errHandlerAbandoned = errors.New("handler still running after grace period")

func DefaultOptions() Options {
	return Options{
		MaxRetries:                3,
		RetryDelay:                time.Second,
		HandlerTimeout:            30 * time.Second,
		HandlerGrace:              defaultHandlerGrace,
		MaxConcurrentHandlers:     8,
		DeadLetterPublishFailures: true,
	}
}

// Metrics is a point-in-time view of bus counters.
type Metrics struct {
	Published           int64          `json:"published"`
	Attempts            int64          `json:"attempts"`
	FailedAttempts      int64          `json:"failed_attempts"`
	DeadLettered        int64          `json:"dead_lettered"`
	DeadLetterQueueSize int            `json:"dead_letter_queue_size"`
	Subscriptions       map[string]int `json:"subscriptions"`
}

// Bus is safe for concurrent use. Subscriptions are owned by the instance.
type Bus struct {
	store Appender
	opts  Options

	mu       sync.RWMutex
	handlers map[string][]Handler

	dlqMu       sync.Mutex
	deadLetters []v1.DeadLetter
	dlqRepo     storage.DeadLetterRepository

	validator Validator
	recorder  Recorder
	clock     clock.Source
	sleep     func(ctx context.Context, d time.Duration) error

	published      atomic.Int64
	attempts       atomic.Int64
	failedAttempts atomic.Int64
	deadLettered   atomic.Int64
}

type Option func(*Bus)

// WithDeadLetterRepository persists dead letters so they survive restarts.
func WithDeadLetterRepository(repo storage.DeadLetterRepository) Option {
	return func(b *Bus) { b.dlqRepo = repo }
}

func WithValidator(v Validator) Option {
	return func(b *Bus) { b.validator = v }
}

func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

func WithClock(src clock.Source) Option {
	return func(b *Bus) { b.clock = src }
}

func New(store Appender, opts Options, options ...Option) *Bus {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxConcurrentHandlers <= 0 {
		opts.MaxConcurrentHandlers = 1
	}
	if opts.HandlerGrace <= 0 {
		opts.HandlerGrace = defaultHandlerGrace
	}
	b := &Bus{
		store:    store,
		opts:     opts,
		handlers: make(map[string][]Handler),
		clock:    clock.Default,
		sleep:    sleepContext,
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// Subscribe registers h for eventType. Registering a name twice keeps the first.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.handlers[eventType] {
		if existing.Name() == h.Name() {
			return
		}
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)

	slog.Debug("[EventBus] Handler subscribed",
		"event_type", eventType,
		"handler", h.Name())
}

// Unsubscribe removes h from eventType and reports whether it was registered.
// The event type is dropped once its last handler is gone.
func (b *Bus) Unsubscribe(eventType string, h Handler) bool {
	if h == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[eventType]
	for i, existing := range list {
		if existing.Name() != h.Name() {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = list
		}
		return true
	}
	return false
}

// HandlerCount returns the number of handlers subscribed to eventType.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *Bus) handlersFor(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.handlers[eventType]
	if len(list) == 0 {
		return nil
	}
	out := make([]Handler, len(list))
	copy(out, list)
	return out
}

func (b *Bus) handlerNamed(eventType, name string) Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers[eventType] {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

// Publish appends the event and then delivers it to every subscribed handler.
// It returns once each handler succeeded or was dead-lettered. Append errors
// are returned; handler errors never are.
func (b *Bus) Publish(ctx context.Context, event v1.DomainEvent) error {
	if err := b.validate(ctx, event); err != nil {
		return err
	}

	if _, err := b.store.Append(ctx, event); err != nil {
		b.deadLetterPublish(ctx, err, event)
		return err
	}
	b.published.Add(1)

	b.dispatch(ctx, event)
	return nil
}

// PublishBatch appends all events atomically, then dispatches them in order.
func (b *Bus) PublishBatch(ctx context.Context, events []v1.DomainEvent) error {
	for _, event := range events {
		if err := b.validate(ctx, event); err != nil {
			return err
		}
	}

	if _, err := b.store.AppendBatch(ctx, events); err != nil {
		b.deadLetterPublish(ctx, err, events...)
		return err
	}
	b.published.Add(int64(len(events)))

	for _, event := range events {
		b.dispatch(ctx, event)
	}
	return nil
}

// Replay delivers already-stored events to the current handlers without
// appending them again.
func (b *Bus) Replay(ctx context.Context, events ...v1.DomainEvent) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.dispatch(ctx, event)
	}
	return nil
}

func (b *Bus) validate(ctx context.Context, event v1.DomainEvent) error {
	if b.validator == nil {
		return nil
	}
	err := b.validator.Validate(ctx, event)
	if err == nil || errors.Is(err, coreerr.ErrValidation) {
		return err
	}
	return &coreerr.ValidationError{Field: "payload", Message: err.Error()}
}

func (b *Bus) deadLetterPublish(ctx context.Context, err error, events ...v1.DomainEvent) {
	if !b.opts.DeadLetterPublishFailures {
		return
	}
	// caller mistakes are never queued: the fact itself is wrong
	if errors.Is(err, coreerr.ErrConcurrency) || errors.Is(err, coreerr.ErrValidation) {
		return
	}
	for _, event := range events {
		b.enqueue(ctx, v1.DeadLetter{
			Event: event,
			Error: err.Error(),
			Stage: v1.StagePublish,
		})
	}
}

// dispatch runs every handler's retry cycle concurrently and waits for all.
func (b *Bus) dispatch(ctx context.Context, event v1.DomainEvent) {
	handlers := b.handlersFor(event.EventType)
	if len(handlers) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(b.opts.MaxConcurrentHandlers)
	for _, h := range handlers {
		g.Go(func() error {
			if herr := b.deliver(ctx, h, event); herr != nil {
				b.enqueue(ctx, v1.DeadLetter{
					Event:      event,
					Error:      herr.Error(),
					Handler:    h.Name(),
					Stage:      v1.StageHandler,
					RetryCount: herr.Attempts - 1,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// deliver tries h up to 1+MaxRetries times with exponential backoff.
func (b *Bus) deliver(ctx context.Context, h Handler, event v1.DomainEvent) *coreerr.HandlerError {
	maxAttempts := 1 + b.opts.MaxRetries

	var (
		lastErr  error
		attempts int
	)
	for attempts < maxAttempts {
		if attempts > 0 {
			delay := b.backoff(attempts - 1)
			if err := b.sleep(ctx, delay); err != nil {
				lastErr = fmt.Errorf("retry aborted: %w", err)
				break
			}
		}
		attempts++

		start := time.Now()
		err := b.invoke(ctx, h, event)
		b.attempts.Add(1)
		if b.recorder != nil {
			b.recorder.RecordDispatch(event.EventType, time.Since(start), err)
		}
		if err == nil {
			return nil
		}

		b.failedAttempts.Add(1)
		lastErr = err
		slog.Warn("[EventBus] Handler attempt failed",
			"handler", h.Name(),
			"event_type", event.EventType,
			"event_id", event.EventID,
			"attempt", attempts,
			"max_attempts", maxAttempts,
			"error", err)
		if errors.Is(err, errHandlerAbandoned) {
			break
		}
	}

	return &coreerr.HandlerError{
		Handler:   h.Name(),
		EventType: event.EventType,
		EventID:   event.EventID,
		Attempts:  attempts,
		Err:       lastErr,
	}
}

func (b *Bus) backoff(retry int) time.Duration {
	return b.opts.RetryDelay * time.Duration(1<<uint(retry))
}

// invoke runs one attempt under HandlerTimeout. Once the deadline passes or
// ctx is cancelled it waits up to HandlerGrace for the handler to return, so
// attempts of one handler never overlap.
func (b *Bus) invoke(ctx context.Context, h Handler, event v1.DomainEvent) error {
	if b.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.HandlerTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- h.Handle(ctx, event.Clone())
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	grace := time.NewTimer(b.opts.HandlerGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		if err == nil {
			// a late success still missed its deadline
			err = fmt.Errorf("handler %q returned after deadline: %w", h.Name(), ctx.Err())
		}
		return err
	case <-grace.C:
		return fmt.Errorf("handler %q: %w: %w", h.Name(), errHandlerAbandoned, ctx.Err())
	}
}

// Metrics returns the current counters.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	subs := make(map[string]int, len(b.handlers))
	for eventType, list := range b.handlers {
		subs[eventType] = len(list)
	}
	b.mu.RUnlock()

	return Metrics{
		Published:           b.published.Load(),
		Attempts:            b.attempts.Load(),
		FailedAttempts:      b.failedAttempts.Load(),
		DeadLettered:        b.deadLettered.Load(),
		DeadLetterQueueSize: b.DeadLetterCount(),
		Subscriptions:       subs,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
