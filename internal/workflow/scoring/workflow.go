// Package scoring runs the score-request workflow as a saga on the AIResult
// aggregate: request the computation, log it, process it, record the outcome.
// Every step appends an event; compensations append the reversing event.
package scoring

import (
	"context"
	"fmt"
	"strings"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/clock"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
	"github.com/aevon-lab/eventcore/internal/saga"
)

const (
	SagaType      = "AIScoring"
	AggregateType = "AIResult"

	EventRequested = "AIResultRequested"
	EventLogged    = "AIResultLogged"
	EventProcessed = "AIResultProcessed"
	EventCompleted = "AIResultCompleted"

	EventCancelled = "AIResultCancelled"
	EventLogVoided = "AIResultLogVoided"
	EventDiscarded = "AIResultDiscarded"
)

// Keys of the saga working memory.
const (
	keyRequestID   = "request_id"
	keyModel       = "model"
	keySignals     = "signals"
	keyScore       = "score"
	keyPassed      = "passed"
	keyLastEventID = "last_event_id"
)

type Publisher interface {
	Publish(ctx context.Context, event v1.DomainEvent) error
}

type VersionReader interface {
	GetLatestVersion(ctx context.Context, aggregateID, aggregateType string) (int64, error)
}

// Request starts one scoring run.
type Request struct {
	RequestID string                 `json:"request_id"`
	Model     string                 `json:"model"`
	Signals   map[string]interface{} `json:"signals"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return coreerr.Validationf("request_id", "is required")
	}
	if strings.TrimSpace(r.Model) == "" {
		return coreerr.Validationf("model", "is required")
	}
	if len(r.Signals) == 0 {
		return coreerr.Validationf("signals", "at least one signal is required")
	}
	return nil
}

type Workflow struct {
	bus      Publisher
	versions VersionReader
	scorer   *Scorer
	clock    clock.Source
}

func New(bus Publisher, versions VersionReader, scorer *Scorer) *Workflow {
	return &Workflow{bus: bus, versions: versions, scorer: scorer, clock: clock.Default}
}

// Register makes failed scoring sagas retryable.
func (w *Workflow) Register(m *saga.Manager) {
	m.RegisterType(SagaType, w.Restore)
}

func (w *Workflow) NewSaga(req Request) (*saga.Saga, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return saga.New(SagaType, map[string]interface{}{
		keyRequestID: req.RequestID,
		keyModel:     req.Model,
		keySignals:   req.Signals,
	}, w.Steps()...), nil
}

// Restore is the saga.Factory for SagaType.
func (w *Workflow) Restore(record v1.SagaRecord) (*saga.Saga, error) {
	if record.SagaType != SagaType {
		return nil, fmt.Errorf("cannot restore saga type %q as %s", record.SagaType, SagaType)
	}
	if id, _ := record.Data[keyRequestID].(string); id == "" {
		return nil, fmt.Errorf("saga %s has no %s", record.ID, keyRequestID)
	}
	return saga.Restore(record, w.Steps()...), nil
}

func (w *Workflow) Steps() []saga.Step {
	return []saga.Step{
		{Name: "request", Execute: w.request, Compensate: w.cancel},
		{Name: "log", Execute: w.log, Compensate: w.voidLog},
		{Name: "process", Execute: w.process, Compensate: w.discard},
		{Name: "record", Execute: w.record},
	}
}

func (w *Workflow) request(ctx context.Context, v *saga.Values) error {
	signals, _ := v.Get(keySignals)
	return w.publish(ctx, v, EventRequested, map[string]interface{}{
		keyModel:   v.String(keyModel),
		keySignals: signals,
	})
}

func (w *Workflow) cancel(ctx context.Context, v *saga.Values) error {
	return w.publish(ctx, v, EventCancelled, map[string]interface{}{"reason": "workflow_compensated"})
}

func (w *Workflow) log(ctx context.Context, v *saga.Values) error {
	raw, _ := v.Get(keySignals)
	signals, _ := raw.(map[string]interface{})
	return w.publish(ctx, v, EventLogged, map[string]interface{}{
		keyModel:       v.String(keyModel),
		"signal_count": len(signals),
	})
}

func (w *Workflow) voidLog(ctx context.Context, v *saga.Values) error {
	return w.publish(ctx, v, EventLogVoided, nil)
}

func (w *Workflow) process(ctx context.Context, v *saga.Values) error {
	raw, _ := v.Get(keySignals)
	signals, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("signals have unexpected type %T", raw)
	}

	result, err := w.scorer.Score(signals)
	if err != nil {
		return err
	}
	v.Set(keyScore, result.Score.String())
	v.Set(keyPassed, result.Passed)

	return w.publish(ctx, v, EventProcessed, map[string]interface{}{
		keyScore:  result.Score.String(),
		keyPassed: result.Passed,
		"signals": result.Signals,
	})
}

func (w *Workflow) discard(ctx context.Context, v *saga.Values) error {
	score := v.String(keyScore)
	v.Delete(keyScore)
	v.Delete(keyPassed)
	return w.publish(ctx, v, EventDiscarded, map[string]interface{}{keyScore: score})
}

func (w *Workflow) record(ctx context.Context, v *saga.Values) error {
	grade := "fail"
	if v.Bool(keyPassed) {
		grade = "pass"
	}
	return w.publish(ctx, v, EventCompleted, map[string]interface{}{
		keyModel:  v.String(keyModel),
		keyScore:  v.String(keyScore),
		keyPassed: v.Bool(keyPassed),
		"grade":   grade,
	})
}

// publish appends the next event of the request's AIResult stream, chained
// to the previous one by causation.
func (w *Workflow) publish(ctx context.Context, v *saga.Values, eventType string, payload map[string]interface{}) error {
	requestID := v.String(keyRequestID)
	latest, err := w.versions.GetLatestVersion(ctx, requestID, AggregateType)
	if err != nil {
		return fmt.Errorf("failed to read version of %s: %w", requestID, err)
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload[keyRequestID] = requestID

	evt := v1.NewDomainEvent(AggregateType, requestID, eventType, latest+1, payload,
		v1.WithClock(w.clock),
		v1.WithCorrelation(requestID),
		v1.WithCausation(v.String(keyLastEventID)),
		v1.WithMetadata(map[string]interface{}{
			"source":    "workflow.scoring",
			"saga_type": SagaType,
		}),
	)
	if err := w.bus.Publish(ctx, evt); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	v.Set(keyLastEventID, evt.EventID)
	return nil
}
