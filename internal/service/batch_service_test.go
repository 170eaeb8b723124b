package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"ingest-pipeline/internal/entity"
	"ingest-pipeline/internal/service"
)

type fakeStore struct {
	enqueueCalled  int
	lastBatchID    uuid.UUID
	lastLibraryID  string
	lastInputs     []entity.JobInput
	enqueueErr     error
	summary        entity.BatchSummary
	requeuedIDs    []int64
	requeuedResult int64
}

func (s *fakeStore) Enqueue(_ context.Context, batchID uuid.UUID, libraryID string, inputs []entity.JobInput) (int64, error) {
	s.enqueueCalled++
	s.lastBatchID = batchID
	s.lastLibraryID = libraryID
	s.lastInputs = inputs
	if s.enqueueErr != nil {
		return 0, s.enqueueErr
	}
	return int64(len(inputs)), nil
}

func (s *fakeStore) StatusSummary(_ context.Context, _ uuid.UUID) (entity.BatchSummary, error) {
	return s.summary, nil
}

func (s *fakeStore) Requeue(_ context.Context, ids []int64) (int64, error) {
	s.requeuedIDs = ids
	return s.requeuedResult, nil
}

type fakeSupervisor struct {
	startErr error
	started  []uuid.UUID
	running  map[uuid.UUID]bool
}

func (s *fakeSupervisor) CanStart(_ uuid.UUID) error { return s.startErr }

func (s *fakeSupervisor) StartBatch(_ context.Context, batchID uuid.UUID) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, batchID)
	return nil
}

func (s *fakeSupervisor) IsRunning(batchID uuid.UUID) bool { return s.running[batchID] }

func TestBatchService_EnqueueBatch_AssignsFreshBatchID(t *testing.T) {
	store := &fakeStore{}
	svc := service.NewBatchService(store, &fakeSupervisor{})

	items := []entity.JobInput{
		{Source: "https://docs.example/a", SourceType: "web"},
		{Source: "https://docs.example/b", SourceType: "web"},
	}
	batchID, n, err := svc.EnqueueBatch(context.Background(), service.EnqueueBatchRequest{
		LibraryID: "lib-1",
		Items:     items,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if batchID == uuid.Nil {
		t.Fatal("expected a fresh batch id")
	}
	if n != 2 {
		t.Fatalf("expected 2 jobs enqueued, got %d", n)
	}
	if store.lastBatchID != batchID || store.lastLibraryID != "lib-1" {
		t.Fatalf("store got batch=%s library=%s", store.lastBatchID, store.lastLibraryID)
	}
}

func TestBatchService_EnqueueBatch_Validation(t *testing.T) {
	store := &fakeStore{}
	svc := service.NewBatchService(store, &fakeSupervisor{})
	ctx := context.Background()

	if _, _, err := svc.EnqueueBatch(ctx, service.EnqueueBatchRequest{
		Items: []entity.JobInput{{Source: "x", SourceType: "web"}},
	}); err == nil {
		t.Fatal("expected error for missing library_id")
	}

	if _, _, err := svc.EnqueueBatch(ctx, service.EnqueueBatchRequest{LibraryID: "lib-1"}); err == nil {
		t.Fatal("expected error for empty items")
	}

	if _, _, err := svc.EnqueueBatch(ctx, service.EnqueueBatchRequest{
		LibraryID: "lib-1",
		Items:     []entity.JobInput{{SourceType: "web"}},
	}); err == nil {
		t.Fatal("expected error for item without source")
	}

	if store.enqueueCalled != 0 {
		t.Fatalf("expected no store calls on validation failure, got %d", store.enqueueCalled)
	}
}

func TestBatchService_StartBatch_PropagatesAdmissionError(t *testing.T) {
	admissionErr := errors.New("batch already running")
	svc := service.NewBatchService(&fakeStore{}, &fakeSupervisor{startErr: admissionErr})

	if err := svc.StartBatch(context.Background(), uuid.New()); !errors.Is(err, admissionErr) {
		t.Fatalf("expected the admission error surfaced unchanged, got %v", err)
	}
}

func TestBatchService_Summary_IncludesRunningFlag(t *testing.T) {
	batchID := uuid.New()
	store := &fakeStore{summary: entity.BatchSummary{Total: 3, Completed: 3}}
	sup := &fakeSupervisor{running: map[uuid.UUID]bool{batchID: true}}
	svc := service.NewBatchService(store, sup)

	sum, running, err := svc.Summary(context.Background(), batchID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !running {
		t.Fatal("expected running=true while the supervisor tracks the batch")
	}
	if sum.Total != 3 || sum.Completed != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestBatchService_Requeue_RejectsEmptyIDs(t *testing.T) {
	svc := service.NewBatchService(&fakeStore{}, &fakeSupervisor{})

	if _, err := svc.Requeue(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty id list")
	}

	store := &fakeStore{requeuedResult: 2}
	svc = service.NewBatchService(store, &fakeSupervisor{})
	n, err := svc.Requeue(context.Background(), []int64{4, 9})
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if n != 2 || len(store.requeuedIDs) != 2 {
		t.Fatalf("expected 2 requeued, got n=%d ids=%v", n, store.requeuedIDs)
	}
}
