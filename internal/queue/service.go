// internal/queue/service.go
package queue

import (
	"context"
	"time"
)

// Service is the producer side of the dispatch queue. One instance is built per
// process and injected into every component that enqueues or controls jobs.
type Service interface {
	Enqueue(ctx context.Context, payload Payload, opts Options) (string, error)
	// Pause parks every not-yet-dispatched job of the broadcast and marks in-flight ones.
	Pause(ctx context.Context, broadcastID string) (int, error)
	// Resume re-enqueues the broadcast's parked jobs with elevated priority.
	Resume(ctx context.Context, broadcastID string) (int, error)
	// RemoveAll deletes every job of the broadcast regardless of phase.
	RemoveAll(ctx context.Context, broadcastID string) (int, error)
}

// Consumer is the worker side of the dispatch queue.
type Consumer interface {
	// Dequeue returns the next dispatchable job, or nil when none is available.
	Dequeue(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, j *Job) error
	Retry(ctx context.Context, j *Job, delay time.Duration, cause error) error
	Fail(ctx context.Context, j *Job, cause error) error
	// Park holds an active job back until its broadcast is resumed. It reports
	// false when stillPaused saw the broadcast running and the job was requeued.
	Park(ctx context.Context, j *Job, stillPaused ParkGuard) (bool, error)
	// Remove drops a job without counting it as completed.
	Remove(ctx context.Context, j *Job) error
	RecoverStalled(ctx context.Context) (int, error)
	Counts(ctx context.Context) (Counts, error)
}

// ParkGuard reports whether a broadcast is still paused.
type ParkGuard func(ctx context.Context, broadcastID string) (bool, error)

// Counts is the number of jobs per phase.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
}
