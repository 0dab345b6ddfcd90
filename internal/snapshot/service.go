// Package snapshot creates and locates point-in-time aggregate states used to
// bound replay cost. Rebuilding state from a snapshot is the caller's job.
package snapshot

import (
	"context"
	"errors"
	"log/slog"

	v1 "github.com/aevon-lab/eventcore/internal/api/v1"
	coreerr "github.com/aevon-lab/eventcore/internal/core/errors"
)

// Store is the snapshot side of the event store.
type Store interface {
	GetLatestVersion(ctx context.Context, aggregateID, aggregateType string) (int64, error)
	CreateSnapshot(ctx context.Context, aggregateID, aggregateType string, version int64, data map[string]interface{}) (*v1.Snapshot, error)
	GetLatestSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateSnapshot tags data with the aggregate's current latest version.
func (s *Service) CreateSnapshot(ctx context.Context, aggregateID, aggregateType string, data map[string]interface{}) (*v1.Snapshot, error) {
	if aggregateID == "" || aggregateType == "" {
		return nil, coreerr.Validationf("aggregate_id", "aggregate id and type are required")
	}
	version, err := s.store.GetLatestVersion(ctx, aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, &coreerr.NotFoundError{Resource: "stream", Key: aggregateType + "/" + aggregateID}
	}
	return s.store.CreateSnapshot(ctx, aggregateID, aggregateType, version, data)
}

// GetSnapshot returns the latest snapshot's data, or nil when there is none.
func (s *Service) GetSnapshot(ctx context.Context, aggregateID, aggregateType string) (map[string]interface{}, error) {
	snapshot, err := s.store.GetLatestSnapshot(ctx, aggregateID, aggregateType)
	if errors.Is(err, coreerr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshot.Data, nil
}

// RestoreFromSnapshot locates the latest snapshot, or returns *NotFoundError.
func (s *Service) RestoreFromSnapshot(ctx context.Context, aggregateID, aggregateType string) (*v1.Snapshot, error) {
	snapshot, err := s.store.GetLatestSnapshot(ctx, aggregateID, aggregateType)
	if err != nil {
		return nil, err
	}
	slog.Info("[Snapshot] Restoring from snapshot",
		"aggregate_type", aggregateType,
		"aggregate_id", aggregateID,
		"version", snapshot.Version)
	return snapshot, nil
}
