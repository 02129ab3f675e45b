package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// JobLastSuccess returns the start of the job's last successful run, zero
// when it never succeeded.
func (r *Repository) JobLastSuccess(ctx context.Context, job string) (time.Time, error) {
	var at time.Time
	err := r.db.Pool().QueryRow(ctx, `SELECT last_success FROM job_runs WHERE job = $1`, job).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load last success of %s: %w", job, err)
	}
	return at, nil
}

// SaveJobSuccess records a successful run. The stored time never moves
// backwards.
func (r *Repository) SaveJobSuccess(ctx context.Context, job string, startedAt time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO job_runs (job, last_success, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job) DO UPDATE SET
			last_success = GREATEST(job_runs.last_success, EXCLUDED.last_success),
			updated_at = now()`, job, startedAt)
	if err != nil {
		return fmt.Errorf("save last success of %s: %w", job, err)
	}
	return nil
}
