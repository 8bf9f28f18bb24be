package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/queue"
)

// =============================================================================
// QUEUE RECOVERY WORKER
// =============================================================================
// If a transport worker crashes mid-job, the job stays claimed indefinitely
// and its prospect never progresses. This worker periodically returns jobs
// whose claim visibility deadline passed to the waiting set; job ids are
// idempotent so a reclaimed job that was actually finished is harmless.

const (
	// DefaultRecoveryInterval is how often stale claims are scanned.
	DefaultRecoveryInterval = 2 * time.Minute
)

// QueueRecovery periodically reclaims stale claimed jobs on every queue.
type QueueRecovery struct {
	q        *queue.RedisQueue
	queues   []string
	interval time.Duration
}

// NewQueueRecovery creates a recovery worker covering the delivery queues.
func NewQueueRecovery(q *queue.RedisQueue) *QueueRecovery {
	return &QueueRecovery{
		q:        q,
		queues:   []string{domain.QueueSend, domain.QueueReplyCheck},
		interval: DefaultRecoveryInterval,
	}
}

// SetInterval overrides the scan cadence.
func (r *QueueRecovery) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (r *QueueRecovery) Start(ctx context.Context) {
	log.Printf("[QueueRecovery] Starting (interval=%s)", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[QueueRecovery] Stopping")
			return
		case <-ticker.C:
			r.reclaimAll(ctx)
		}
	}
}

func (r *QueueRecovery) reclaimAll(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, name := range r.queues {
		n, err := r.q.ReclaimStale(queryCtx, name)
		if err != nil {
			log.Printf("[QueueRecovery] Error reclaiming %s: %v", name, err)
			continue
		}
		if n > 0 {
			log.Printf("[QueueRecovery] Reclaimed %d stale jobs from %s", n, name)
		}
	}
}
