package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shipsanity/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EnqueueJob adds a waiting job to the jobs table.
func (s *Store) EnqueueJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.VisibleAfter.IsZero() {
		job.VisibleAfter = time.Now()
	}
	job.State = store.JobStateWaiting

	query := `
		INSERT INTO jobs (id, kind, tenant_id, payload, state, attempt, max_attempts, backoff_kind, backoff_delay_ms, visible_after)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9)
	`

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		job.ID, job.Kind, job.TenantID, []byte(job.Payload), job.State,
		job.MaxAttempts, job.Backoff.Kind, job.Backoff.Delay.Milliseconds(), job.VisibleAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimJobs claims up to 'limit' visible jobs atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Active jobs whose visibility lapsed (crashed worker) are claimable again.
// Returns nil slice if no jobs are available.
func (s *Store) ClaimJobs(ctx context.Context, limit int, visibility time.Duration) ([]store.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Stalled jobs that already used every attempt are not handed out again.
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = $1, last_error = 'stalled: attempts exhausted', finished_at = NOW()
		WHERE state = $2 AND visible_after <= NOW() AND attempt >= max_attempts
	`, store.JobStateFailed, store.JobStateActive)
	if err != nil {
		return nil, fmt.Errorf("stalled job cleanup failed: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, tenant_id, payload, attempt, max_attempts, backoff_kind, backoff_delay_ms, created_at
		FROM jobs
		WHERE state IN ($2, $3) AND visible_after <= NOW()
		ORDER BY visible_after ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit, store.JobStateWaiting, store.JobStateActive)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	var ids []uuid.UUID

	for rows.Next() {
		var job store.Job
		var payload []byte
		var delayMs int64
		if err := rows.Scan(&job.ID, &job.Kind, &job.TenantID, &payload, &job.Attempt,
			&job.MaxAttempts, &job.Backoff.Kind, &delayMs, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		job.Payload = payload
		job.Backoff.Delay = time.Duration(delayMs) * time.Millisecond
		job.Attempt++
		job.State = store.JobStateActive
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows error: %w", err)
	}

	if len(jobs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = $1, attempt = attempt + 1, visible_after = NOW() + ($2 * INTERVAL '1 second')
		WHERE id = ANY($3)
	`, store.JobStateActive, visibility.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("claim update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// CompleteJob handles a successful job.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = $1, finished_at = NOW(), last_error = NULL
		WHERE id = $2
	`, store.JobStateCompleted, id)
	return err
}

// FailJob handles a failed attempt with the job's own backoff policy.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	var attempt, maxAttempts int
	var policy store.BackoffPolicy
	var delayMs int64

	err := s.db.QueryRowContext(ctx,
		"SELECT attempt, max_attempts, backoff_kind, backoff_delay_ms FROM jobs WHERE id = $1", id,
	).Scan(&attempt, &maxAttempts, &policy.Kind, &delayMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Job not found -> treat as final/already gone
			return true, nil
		}
		return false, err
	}
	policy.Delay = time.Duration(delayMs) * time.Millisecond

	if attempt < maxAttempts {
		backoff := policy.Next(attempt)
		_, err = s.db.ExecContext(ctx, `
			UPDATE jobs
			SET state = $1, last_error = $2, visible_after = NOW() + ($3 * INTERVAL '1 second')
			WHERE id = $4
		`, store.JobStateWaiting, errMsg, backoff.Seconds(), id)
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = $1, last_error = $2, finished_at = NOW()
		WHERE id = $3
	`, store.JobStateFailed, errMsg, id)
	if err != nil {
		return true, fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	return true, nil
}

// ExtendJob extends the heartbeat.
func (s *Store) ExtendJob(ctx context.Context, id uuid.UUID, visibleAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET visible_after = $1
		WHERE id = $2 AND state = $3
	`, visibleAfter, id, store.JobStateActive)
	return err
}

// CountJobs returns the number of jobs in each state.
func (s *Store) CountJobs(ctx context.Context) (store.JobCounts, error) {
	var c store.JobCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'waiting' AND visible_after <= NOW()),
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state = 'failed'),
			COUNT(*) FILTER (WHERE state = 'waiting' AND visible_after > NOW())
		FROM jobs
	`).Scan(&c.Waiting, &c.Active, &c.Completed, &c.Failed, &c.Delayed)
	if err != nil {
		return store.JobCounts{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	return c, nil
}

// PruneJobs trims finished job metadata down to the newest N per state.
func (s *Store) PruneJobs(ctx context.Context, keepCompleted, keepFailed int) error {
	query := `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state = $1
			ORDER BY finished_at DESC
			OFFSET $2
		)
	`
	if _, err := s.db.ExecContext(ctx, query, store.JobStateCompleted, keepCompleted); err != nil {
		return fmt.Errorf("failed to prune completed jobs: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, store.JobStateFailed, keepFailed); err != nil {
		return fmt.Errorf("failed to prune failed jobs: %w", err)
	}
	return nil
}
