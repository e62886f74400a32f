package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is a Provider backed by a jobs table. Claims use
// FOR UPDATE SKIP LOCKED so multiple workers never grab the same job, and
// enqueue relies on a unique key constraint for deduplication.
type Postgres struct {
	pool querier
}

// NewPostgres connects a Postgres-backed queue.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("queue dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect queue postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a queue from an existing pool (primarily for testing).
func NewPostgresWithPool(pool querier) *Postgres {
	return &Postgres{pool: pool}
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	job_type    TEXT NOT NULL,
	job_key     TEXT NOT NULL UNIQUE,
	payload     JSONB NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'queued',
	attempt     INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at);
`

// EnsureSchema creates the jobs table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, queueSchema); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// Enqueue implements Provider.
func (p *Postgres) Enqueue(ctx context.Context, jobType, key string, payload any) (bool, error) {
	if key == "" {
		return false, errors.New("job key is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
INSERT INTO jobs (job_type, job_key, payload)
VALUES ($1, $2, $3)
ON CONFLICT (job_key) DO NOTHING`, jobType, key, body)
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Dequeue implements Provider.
func (p *Postgres) Dequeue(ctx context.Context) (*Job, error) {
	row := p.pool.QueryRow(ctx, `
UPDATE jobs
SET status = 'running', attempt = attempt + 1, updated_at = now()
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'queued'
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, job_type, job_key, payload, attempt`)

	var job Job
	if err := row.Scan(&job.ID, &job.Type, &job.Key, &job.Payload, &job.Attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return &job, nil
}

// Ack implements Provider.
func (p *Postgres) Ack(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx,
		`UPDATE jobs SET status = 'done', updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	return nil
}

// Nack implements Provider.
func (p *Postgres) Nack(ctx context.Context, id string, maxAttempts int) error {
	if _, err := p.pool.Exec(ctx, `
UPDATE jobs
SET status = CASE WHEN attempt >= $2 THEN 'failed' ELSE 'queued' END,
    updated_at = now()
WHERE id = $1`, id, maxAttempts); err != nil {
		return fmt.Errorf("nack job %s: %w", id, err)
	}
	return nil
}

// Close implements Provider.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}
