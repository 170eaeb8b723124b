package postgresql

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest-pipeline/internal/entity"
)

var ErrNotFound = errors.New("not found")

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Enqueue inserts all inputs under one batch id in a single transaction.
// Duplicate payloads are allowed; dedup is not this layer's concern.
func (r *JobRepository) Enqueue(ctx context.Context, batchID uuid.UUID, libraryID string, inputs []entity.JobInput) (int64, error) {
	if len(inputs) == 0 {
		return 0, errors.New("no jobs to enqueue")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, []any{batchID, libraryID, in.Source, in.SourceType, in.OriginURL})
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ingest_jobs"},
		[]string{"batch_id", "library_id", "source", "source_type", "origin_url"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// ClaimPending atomically selects up to limit pending jobs of the batch,
// oldest first, and flips them to processing. Rows locked by a concurrent
// claimer are skipped, never waited on, so parallel callers cannot block each
// other or observe the same job twice. An empty result means the batch is
// drained.
func (r *JobRepository) ClaimPending(ctx context.Context, batchID uuid.UUID, limit int) ([]entity.Job, error) {
	const q = `
UPDATE ingest_jobs j
SET status = 'processing', processed_at = now(), updated_at = now()
FROM (
	SELECT id FROM ingest_jobs
	WHERE batch_id = $1 AND status = 'pending'
	ORDER BY created_at, id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
) AS c
WHERE j.id = c.id
RETURNING j.id, j.batch_id, j.library_id, j.source, j.source_type, j.origin_url,
          j.status, j.error, j.error_class, j.created_at, j.updated_at, j.processed_at;
`
	rows, err := r.pool.Query(ctx, q, batchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []entity.Job
	for rows.Next() {
		var j entity.Job
		var status string
		if err := rows.Scan(
			&j.ID, &j.BatchID, &j.LibraryID, &j.Source, &j.SourceType, &j.OriginURL,
			&status, &j.Error, &j.ErrorClass, &j.CreatedAt, &j.UpdatedAt, &j.ProcessedAt,
		); err != nil {
			return nil, err
		}
		j.Status = entity.JobStatus(status)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE..RETURNING does not promise row order; restore creation order.
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs, nil
}

// MarkCompleted is idempotent: repeating it on a completed job rewrites the
// same terminal state. The status guard keeps a stale call from flipping a
// failed row or dragging a requeued pending row back to terminal.
func (r *JobRepository) MarkCompleted(ctx context.Context, id int64) error {
	const q = `
UPDATE ingest_jobs
SET status = 'completed', error = NULL, error_class = NULL,
    processed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('processing', 'completed');
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, id int64, cause string, class entity.ErrorClass) error {
	const q = `
UPDATE ingest_jobs
SET status = 'failed', error = $2, error_class = $3,
    processed_at = now(), updated_at = now()
WHERE id = $1 AND status IN ('processing', 'failed');
`
	tag, err := r.pool.Exec(ctx, q, id, cause, string(class))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverStuckJobs returns every processing row of the batch to pending.
// Run once at batch worker startup: a processing status is never trusted to
// outlive the process that set it. Idempotent; recovers zero rows when
// nothing is stuck.
func (r *JobRepository) RecoverStuckJobs(ctx context.Context, batchID uuid.UUID) (int64, error) {
	const q = `
UPDATE ingest_jobs
SET status = 'pending', error = NULL, error_class = NULL,
    processed_at = NULL, updated_at = now()
WHERE batch_id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, q, batchID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Requeue returns terminal jobs to pending, clearing error fields and
// processed_at. Rows not in a terminal state are left untouched.
func (r *JobRepository) Requeue(ctx context.Context, ids []int64) (int64, error) {
	const q = `
UPDATE ingest_jobs
SET status = 'pending', error = NULL, error_class = NULL,
    processed_at = NULL, updated_at = now()
WHERE id = ANY($1) AND status IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, q, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) StatusSummary(ctx context.Context, batchID uuid.UUID) (entity.BatchSummary, error) {
	const q = `
SELECT status, count(*) FROM ingest_jobs
WHERE batch_id = $1
GROUP BY status;
`
	rows, err := r.pool.Query(ctx, q, batchID)
	if err != nil {
		return entity.BatchSummary{}, err
	}
	defer rows.Close()

	var sum entity.BatchSummary
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return entity.BatchSummary{}, err
		}
		switch entity.JobStatus(status) {
		case entity.StatusPending:
			sum.Pending = count
		case entity.StatusProcessing:
			sum.Processing = count
		case entity.StatusCompleted:
			sum.Completed = count
		case entity.StatusFailed:
			sum.Failed = count
		}
		sum.Total += count
	}
	return sum, rows.Err()
}

func (r *JobRepository) GetJob(ctx context.Context, id int64) (*entity.Job, error) {
	const q = `
SELECT id, batch_id, library_id, source, source_type, origin_url,
       status, error, error_class, created_at, updated_at, processed_at
FROM ingest_jobs
WHERE id = $1;
`
	var j entity.Job
	var status string
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&j.ID, &j.BatchID, &j.LibraryID, &j.Source, &j.SourceType, &j.OriginURL,
		&status, &j.Error, &j.ErrorClass, &j.CreatedAt, &j.UpdatedAt, &j.ProcessedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	j.Status = entity.JobStatus(status)
	return &j, nil
}
