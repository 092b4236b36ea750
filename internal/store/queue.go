package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobQueue defines the backing-store operations of the job queue.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type JobQueue interface {
	// EnqueueJob inserts a waiting job that becomes claimable at job.VisibleAfter.
	EnqueueJob(ctx context.Context, tx DBTransaction, job *Job) error

	// ClaimJobs claims up to 'limit' visible jobs atomically and hides them for 'visibility'.
	// Returns nil slice if queue is empty.
	ClaimJobs(ctx context.Context, limit int, visibility time.Duration) ([]Job, error)

	// CompleteJob marks a job completed.
	CompleteJob(ctx context.Context, id uuid.UUID) error

	// FailJob records a failed attempt. If attempts are exhausted the job is
	// marked failed and final is true; otherwise it is rescheduled with its backoff.
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) (final bool, err error)

	// ExtendJob pushes the visibility timeout of an active job (heartbeat).
	ExtendJob(ctx context.Context, id uuid.UUID, visibleAfter time.Time) error

	// CountJobs returns job counts by state.
	CountJobs(ctx context.Context) (JobCounts, error)

	// PruneJobs keeps only the newest keepCompleted completed and keepFailed failed jobs.
	PruneJobs(ctx context.Context, keepCompleted, keepFailed int) error
}
