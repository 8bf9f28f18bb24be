// Package queue provides the durable delivery queue used to hand campaign
// sends and webhook deliveries to asynchronous workers. Jobs support delayed
// execution, priority ordering, idempotent job ids, and per-queue retry
// policies with bounded retention of finished jobs.
package queue

import (
	"context"
	"time"
)

// JobState tracks where a job currently lives.
type JobState string

const (
	StateDelayed   JobState = "delayed"
	StateWaiting   JobState = "waiting"
	StateClaimed   JobState = "claimed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Job is a unit of work stored in the queue.
type Job struct {
	ID       string    `json:"id"`
	Queue    string    `json:"queue"`
	Payload  []byte    `json:"payload"`
	Priority int       `json:"priority"`
	Attempts int       `json:"attempts"`
	State    JobState  `json:"state"`
	DueAt    time.Time `json:"due_at"`
	LastErr  string    `json:"last_error,omitempty"`
}

// Options control how a job is enqueued.
type Options struct {
	// Delay defers the job; zero means immediately runnable.
	Delay time.Duration
	// Priority orders runnable jobs, higher first. Default 0.
	Priority int
}

// Enqueuer is the narrow contract the orchestrator depends on. Enqueue and
// Remove return once the change is durably recorded, not once a worker has
// run; queue operations are non-blocking from the caller's perspective.
type Enqueuer interface {
	// Enqueue adds a job. jobID supplies idempotent dedup: re-enqueuing an
	// id that is still outstanding (delayed, waiting, or claimed) is a no-op
	// and returns false.
	Enqueue(ctx context.Context, queue, jobID string, payload []byte, opts Options) (bool, error)
	// ListDelayed returns jobs whose delay has not yet elapsed.
	ListDelayed(ctx context.Context, queue string) ([]Job, error)
	// ListWaiting returns runnable jobs not yet claimed by a worker.
	ListWaiting(ctx context.Context, queue string) ([]Job, error)
	// Remove deletes a not-yet-claimed job. Jobs already picked up by a
	// worker are not recalled; removing them is a no-op.
	Remove(ctx context.Context, queue, jobID string) error
}

// BackoffStrategy names how retry delays grow.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy is the per-queue failure policy. A worker-side failure
// re-delays the job per NextDelay until MaxAttempts is exhausted, after
// which the job is marked failed and retained for inspection, never
// silently dropped.
type RetryPolicy struct {
	MaxAttempts int
	Strategy    BackoffStrategy
	Delay       time.Duration
}

// NextDelay returns the backoff before the given retry. attempt is 1-based:
// the delay applied after the attempt-th failure.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if p.Strategy == BackoffFixed {
		return p.Delay
	}
	d := p.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Default policies per queue.
var (
	// SendPolicy: 3 attempts with exponential backoff 1m, 2m, 4m.
	SendPolicy = RetryPolicy{MaxAttempts: 3, Strategy: BackoffExponential, Delay: time.Minute}
	// ReplyCheckPolicy: fixed 2m between attempts.
	ReplyCheckPolicy = RetryPolicy{MaxAttempts: 3, Strategy: BackoffFixed, Delay: 2 * time.Minute}
)

// PolicyFor returns the retry policy for a queue name, defaulting to
// SendPolicy for unknown queues.
func PolicyFor(queue string) RetryPolicy {
	switch queue {
	case "reply-check":
		return ReplyCheckPolicy
	default:
		return SendPolicy
	}
}
