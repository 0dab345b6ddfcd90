// Package ingestion is the HTTP producer surface: it turns JSON requests into
// domain events, publishes them on the bus and serves stored streams.
package ingestion

import (
	"context"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	"github.com/aevon-lab/eventcore/internal/core/storage"
	"github.com/aevon-lab/eventcore/internal/eventstore"
	"github.com/gin-gonic/gin"
)

// Publisher is the part of the event bus the API writes through.
type Publisher interface {
	Publish(ctx context.Context, event v1.DomainEvent) error
	PublishBatch(ctx context.Context, events []v1.DomainEvent) error
}

// EventReader is the read side of the event store.
type EventReader interface {
	GetStream(ctx context.Context, aggregateID, aggregateType string, fromVersion int64) (*eventstore.Stream, error)
	GetEvents(ctx context.Context, filter storage.EventFilter) ([]*v1.StoredEvent, error)
	GetLatestVersion(ctx context.Context, aggregateID, aggregateType string) (int64, error)
}

type Service struct {
	bus              Publisher
	events           EventReader
	maxBodySizeBytes int
	maxBatchSize     int
}

func NewService(bus Publisher, events EventReader, maxBodySizeMB, maxBatchSize int) *Service {
	if bus == nil {
		panic("ingestion: publisher must not be nil")
	}
	if events == nil {
		panic("ingestion: event reader must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	return &Service{
		bus:              bus,
		events:           events,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		maxBatchSize:     maxBatchSize,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.PublishHandler)
	r.POST("/v1/events/batch", s.PublishBatchHandler)
	r.GET("/v1/events", s.ListEventsHandler)
	r.GET("/v1/streams/:aggregate_type/:aggregate_id", s.StreamHandler)
}
