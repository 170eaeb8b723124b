package worker

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/google/uuid"

	"ingest-pipeline/internal/entity"
	"ingest-pipeline/internal/protocol"
)

// JobStore is the slice of the repository the batch runner needs.
type JobStore interface {
	ClaimPending(ctx context.Context, batchID uuid.UUID, limit int) ([]entity.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string, class entity.ErrorClass) error
	RecoverStuckJobs(ctx context.Context, batchID uuid.UUID) (int64, error)
}

type RunnerConfig struct {
	BatchSize     int
	Concurrency   int
	RatePerMinute int
}

// Runner owns all jobs of one batch inside one worker process. It claims
// bounded sub-batches, drains each through the pool, and emits control frames
// as it goes. A returned error from Run is an unrecovered worker fault; nil
// means the batch drained normally or a drain request was honored.
type Runner struct {
	batchID   uuid.UUID
	store     JobStore
	processor Processor
	out       *protocol.Writer
	cfg       RunnerConfig

	draining  atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
}

func NewRunner(batchID uuid.UUID, store JobStore, processor Processor, out *protocol.Writer, cfg RunnerConfig) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Runner{
		batchID:   batchID,
		store:     store,
		processor: processor,
		out:       out,
		cfg:       cfg,
	}
}

// Drain stops the claim loop after the in-flight sub-batch finishes. In-flight
// jobs are never abandoned; there is no finer cancellation granularity.
func (r *Runner) Drain() {
	r.draining.Store(true)
}

func (r *Runner) Run(ctx context.Context) error {
	if err := r.out.Send(protocol.Started(r.batchID)); err != nil {
		return fmt.Errorf("announce started: %w", err)
	}

	// Heal crash residue from any prior attempt before claiming anything.
	recovered, err := r.store.RecoverStuckJobs(ctx, r.batchID)
	if err != nil {
		return fmt.Errorf("recover stuck jobs: %w", err)
	}
	if recovered > 0 {
		log.Printf("[runner] batch=%s recovered=%d stuck jobs", r.batchID, recovered)
	}

	pool := NewPool(ctx, r.cfg.Concurrency, r.cfg.RatePerMinute)

	for {
		if r.draining.Load() {
			// Unclaimed jobs remain pending, so this is not a done batch.
			// The clean exit code alone tells the coordinator the drain was
			// honored; done stays reserved for a fully drained batch.
			log.Printf("[runner] batch=%s drain honored processed=%d failed=%d",
				r.batchID, r.processed.Load(), r.failed.Load())
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		jobs, err := r.store.ClaimPending(ctx, r.batchID, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim pending: %w", err)
		}
		if len(jobs) == 0 {
			msg := fmt.Sprintf("batch drained: processed=%d failed=%d", r.processed.Load(), r.failed.Load())
			log.Printf("[runner] batch=%s %s", r.batchID, msg)
			return r.out.Send(protocol.Done(r.batchID, msg))
		}

		for _, job := range jobs {
			job := job
			pool.Add(func(ctx context.Context) {
				r.runJob(ctx, job)
			})
		}
		log.Printf("[runner] batch=%s claimed=%d running=%d pending=%d",
			r.batchID, len(jobs), pool.Running(), pool.Pending())
		if err := pool.OnIdle(ctx); err != nil {
			return err
		}
	}
}

// runJob executes one claimed job. Its failure is recorded and reported but
// never stops the batch.
func (r *Runner) runJob(ctx context.Context, job entity.Job) {
	err := r.processor.Process(ctx, job)
	if err != nil {
		class := Classify(err)
		if mErr := r.store.MarkFailed(ctx, job.ID, err.Error(), class); mErr != nil {
			log.Printf("[runner] job=%d mark_failed error=%v", job.ID, mErr)
		}
		r.failed.Add(1)
		log.Printf("[runner] job=%d source=%s status=failed class=%s error=%v", job.ID, job.Source, class, err)
		_ = r.out.Send(protocol.JobResult(r.batchID, job.ID, string(entity.StatusFailed), job.Source, err.Error()))
	} else {
		if mErr := r.store.MarkCompleted(ctx, job.ID); mErr != nil {
			log.Printf("[runner] job=%d mark_completed error=%v", job.ID, mErr)
		}
		_ = r.out.Send(protocol.JobResult(r.batchID, job.ID, string(entity.StatusCompleted), job.Source, ""))
	}

	done := r.processed.Add(1)
	_ = r.out.Send(protocol.Progress(r.batchID,
		fmt.Sprintf("processed=%d failed=%d", done, r.failed.Load())))
}
