package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// The batch_id and status indexes back the claim query's WHERE clause and the
// summary aggregate.
const schema = `
CREATE TABLE IF NOT EXISTS ingest_jobs (
	id           BIGSERIAL PRIMARY KEY,
	batch_id     UUID NOT NULL,
	library_id   TEXT NOT NULL,
	source       TEXT NOT NULL,
	source_type  TEXT NOT NULL,
	origin_url   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	error        TEXT,
	error_class  TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_ingest_jobs_batch_id ON ingest_jobs (batch_id);
CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs (status);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
