package jobs

import (
	"context"
	"time"
)

// Store is the durable job registry. Implementations must keep the result
// log append-only and must not reorder it.
type Store interface {
	// Create persists a new job.
	Create(ctx context.Context, j *Job) error

	// Get returns the job with its full result log, or db.ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns every job, results included, ordered by creation time.
	List(ctx context.Context) ([]*Job, error)

	// Due returns PENDING and RETRY jobs whose due time has arrived,
	// oldest-created first. Results are included.
	Due(ctx context.Context, now time.Time) ([]*Job, error)

	// Update persists the job's mutable fields (status, failed count, due
	// time, updated-at). The payload and result log are not written here.
	Update(ctx context.Context, j *Job) error

	// AppendResult adds one attempt outcome to the job's log.
	AppendResult(ctx context.Context, jobID string, r Result) error

	// Delete removes the job and its results.
	Delete(ctx context.Context, id string) error
}
