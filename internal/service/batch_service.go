package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ingest-pipeline/internal/entity"
)

// BatchStore is the repository slice the API surface needs
// (implementation: postgresql.JobRepository).
type BatchStore interface {
	Enqueue(ctx context.Context, batchID uuid.UUID, libraryID string, inputs []entity.JobInput) (int64, error)
	StatusSummary(ctx context.Context, batchID uuid.UUID) (entity.BatchSummary, error)
	Requeue(ctx context.Context, ids []int64) (int64, error)
}

// BatchSupervisor is the coordinator slice the API surface needs.
type BatchSupervisor interface {
	CanStart(batchID uuid.UUID) error
	StartBatch(ctx context.Context, batchID uuid.UUID) error
	IsRunning(batchID uuid.UUID) bool
}

type BatchService struct {
	store      BatchStore
	supervisor BatchSupervisor
}

func NewBatchService(store BatchStore, supervisor BatchSupervisor) *BatchService {
	return &BatchService{store: store, supervisor: supervisor}
}

type EnqueueBatchRequest struct {
	LibraryID string
	Items     []entity.JobInput
}

// EnqueueBatch creates a fresh batch id and inserts all items under it.
// Starting the batch is a separate, explicit call so the caller sees
// admission errors synchronously.
func (s *BatchService) EnqueueBatch(ctx context.Context, req EnqueueBatchRequest) (uuid.UUID, int64, error) {
	if req.LibraryID == "" {
		return uuid.Nil, 0, errors.New("library_id is required")
	}
	if len(req.Items) == 0 {
		return uuid.Nil, 0, errors.New("at least one item is required")
	}
	for i, item := range req.Items {
		if item.Source == "" {
			return uuid.Nil, 0, fmt.Errorf("item %d: source is required", i)
		}
		if item.SourceType == "" {
			return uuid.Nil, 0, fmt.Errorf("item %d: source_type is required", i)
		}
	}

	batchID := uuid.New()
	n, err := s.store.Enqueue(ctx, batchID, req.LibraryID, req.Items)
	if err != nil {
		return uuid.Nil, 0, err
	}
	return batchID, n, nil
}

func (s *BatchService) StartBatch(ctx context.Context, batchID uuid.UUID) error {
	return s.supervisor.StartBatch(ctx, batchID)
}

// Summary reports the fresh per-status counts plus whether a worker for the
// batch is currently tracked.
func (s *BatchService) Summary(ctx context.Context, batchID uuid.UUID) (entity.BatchSummary, bool, error) {
	sum, err := s.store.StatusSummary(ctx, batchID)
	if err != nil {
		return entity.BatchSummary{}, false, err
	}
	return sum, s.supervisor.IsRunning(batchID), nil
}

func (s *BatchService) Requeue(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.New("at least one job id is required")
	}
	return s.store.Requeue(ctx, ids)
}
