// Package admin exposes the operator surface: dead-letter inspection and
// redrive, saga inspection and retry, replay, snapshots, metrics, health and
// payload contracts. Every endpoint answers with structured JSON.
package admin

import (
	"context"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/contract"
	"github.com/aevon-lab/eventcore/internal/eventbus"
	"github.com/aevon-lab/eventcore/internal/monitoring"
	"github.com/aevon-lab/eventcore/internal/replay"
	"github.com/aevon-lab/eventcore/internal/saga"
	"github.com/aevon-lab/eventcore/internal/workflow/scoring"
	"github.com/gin-gonic/gin"
)

type DeadLetterQueue interface {
	DeadLetters() []v1.DeadLetter
	DiscardDeadLetter(ctx context.Context, id string) (bool, error)
	RetryDeadLetters(ctx context.Context) (eventbus.RetryReport, error)
	Metrics() eventbus.Metrics
}

type SagaManager interface {
	StartSaga(ctx context.Context, s *saga.Saga) error
	ActiveSagas() []v1.SagaRecord
	GetSagaState(ctx context.Context, sagaID string) (*v1.SagaRecord, error)
	FindByState(ctx context.Context, state v1.SagaStatus) ([]*v1.SagaRecord, error)
	RetryFailedSagas(ctx context.Context) ([]saga.RetryResult, error)
}

type Replayer interface {
	ReplayForAggregate(ctx context.Context, aggregateID, aggregateType string, opts replay.Options) (*replay.Result, error)
	ReplayFromSnapshot(ctx context.Context, aggregateID, aggregateType string, opts replay.Options) (*replay.Result, error)
	ReplayByEventType(ctx context.Context, eventType string, opts replay.Options) ([]replay.Result, error)
	ReplayAll(ctx context.Context, opts replay.Options) ([]replay.Result, error)
}

type Snapshotter interface {
	CreateSnapshot(ctx context.Context, aggregateID, aggregateType string, data map[string]interface{}) (*v1.Snapshot, error)
	RestoreFromSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error)
}

type MetricsCollector interface {
	Collect(ctx context.Context) monitoring.SystemMetrics
}

type ContractLister interface {
	List(ctx context.Context, eventType string) ([]*contract.Contract, error)
}

type ScoringWorkflow interface {
	NewSaga(req scoring.Request) (*saga.Saga, error)
}

// Deps wires the admin surface. Contracts and Scoring may be nil, in which
// case their routes answer 404.
type Deps struct {
	DeadLetters DeadLetterQueue
	Sagas       SagaManager
	Replay      Replayer
	Snapshots   Snapshotter
	Metrics     MetricsCollector
	Contracts   ContractLister
	Scoring     ScoringWorkflow
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	switch {
	case deps.DeadLetters == nil:
		panic("admin: dead-letter queue must not be nil")
	case deps.Sagas == nil:
		panic("admin: saga manager must not be nil")
	case deps.Replay == nil:
		panic("admin: replay service must not be nil")
	case deps.Snapshots == nil:
		panic("admin: snapshot service must not be nil")
	case deps.Metrics == nil:
		panic("admin: metrics collector must not be nil")
	}
	return &Service{deps: deps}
}

// RegisterRoutes registers the admin routes under /admin.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/admin")

	g.GET("/dead-letters", s.ListDeadLettersHandler)
	g.POST("/dead-letters/retry", s.RetryDeadLettersHandler)
	g.DELETE("/dead-letters/:id", s.DiscardDeadLetterHandler)
	g.GET("/bus", s.BusMetricsHandler)

	g.GET("/sagas", s.ListSagasHandler)
	g.GET("/sagas/:id", s.GetSagaHandler)
	g.POST("/sagas/retry-failed", s.RetryFailedSagasHandler)
	g.POST("/sagas/scoring", s.StartScoringHandler)

	g.POST("/replay/aggregates/:aggregate_type/:aggregate_id", s.ReplayAggregateHandler)
	g.POST("/replay/event-types/:event_type", s.ReplayEventTypeHandler)
	g.POST("/replay/all", s.ReplayAllHandler)

	g.POST("/snapshots/:aggregate_type/:aggregate_id", s.CreateSnapshotHandler)
	g.GET("/snapshots/:aggregate_type/:aggregate_id", s.GetSnapshotHandler)

	g.GET("/metrics", s.MetricsHandler)
	g.GET("/health", s.HealthHandler)
	g.GET("/contracts", s.ListContractsHandler)
}
