package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// =============================================================================
// CAMPAIGN SWEEP WORKER
// =============================================================================
// This worker polls for active campaigns and drives the periodic sweep: due
// prospects get enqueued onto the delivery queue, exhausted campaigns get
// completed. Each campaign is processed under a distributed lock so multiple
// worker processes never sweep the same campaign concurrently.
//
// The sweeper also pumps the delivery queue on a faster cadence, promoting
// delayed jobs whose due time has arrived into the waiting set.

const (
	// DefaultSweepInterval is how often active campaigns are swept.
	DefaultSweepInterval = 30 * time.Second

	// DefaultPromoteInterval is how often delayed jobs are promoted.
	DefaultPromoteInterval = 5 * time.Second

	// sweepLockTTL bounds how long one sweep pass may hold a campaign lock.
	sweepLockTTL = time.Minute
)

// sweeping is the slice of the orchestrator the sweeper drives.
type sweeping interface {
	SweepCampaign(ctx context.Context, id string) (int, error)
}

// campaignLister lists the campaigns eligible for sweeping.
type campaignLister interface {
	ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error)
}

// CampaignSweeper polls active campaigns and enqueues their due prospects.
type CampaignSweeper struct {
	orc          sweeping
	store        campaignLister
	db           *sql.DB       // optional; worker registry + advisory lock fallback
	redisClient  *redis.Client // optional; distributed locks
	deliveryQ    *queue.RedisQueue
	workerID     string
	pollInterval time.Duration

	// Stats
	campaignsSwept int64
	jobsEnqueued   int64
	errors         int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCampaignSweeper creates a sweeper over the given orchestrator and store.
func NewCampaignSweeper(orc sweeping, store campaignLister) *CampaignSweeper {
	return &CampaignSweeper{
		orc:          orc,
		store:        store,
		workerID:     fmt.Sprintf("sweeper-%s-%d", hostname(), time.Now().UnixNano()%10000),
		pollInterval: DefaultSweepInterval,
	}
}

// SetDB sets the database used for worker registration and as the advisory
// lock fallback when Redis is absent.
func (s *CampaignSweeper) SetDB(db *sql.DB) { s.db = db }

// SetRedisClient sets the Redis client used for distributed locking.
func (s *CampaignSweeper) SetRedisClient(client *redis.Client) { s.redisClient = client }

// SetDeliveryQueue attaches the Redis delivery queue so the sweeper can pump
// due delayed jobs into the waiting set.
func (s *CampaignSweeper) SetDeliveryQueue(q *queue.RedisQueue) { s.deliveryQ = q }

// SetPollInterval overrides the sweep cadence.
func (s *CampaignSweeper) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Start begins the sweep loops.
func (s *CampaignSweeper) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[CampaignSweeper] Starting with poll interval: %v", s.pollInterval)

	s.registerWorker()

	if s.db != nil {
		s.wg.Add(1)
		go s.heartbeatLoop()
	}

	s.wg.Add(1)
	go s.sweepLoop()

	if s.deliveryQ != nil {
		s.wg.Add(1)
		go s.promoteLoop()
	}

	return nil
}

// Stop gracefully stops the sweeper.
func (s *CampaignSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("[CampaignSweeper] Stopping...")
	s.cancel()
	s.wg.Wait()
	s.deregisterWorker()
	log.Printf("[CampaignSweeper] Stopped. Swept: %d campaigns, Enqueued: %d jobs",
		atomic.LoadInt64(&s.campaignsSwept), atomic.LoadInt64(&s.jobsEnqueued))
}

func (s *CampaignSweeper) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepActiveCampaigns()
		}
	}
}

func (s *CampaignSweeper) promoteLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(DefaultPromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
			for _, name := range []string{domain.QueueSend, domain.QueueReplyCheck} {
				if _, err := s.deliveryQ.PromoteDue(ctx, name); err != nil {
					log.Printf("[CampaignSweeper] Promote %s error: %v", name, err)
				}
			}
			cancel()
		}
	}
}

// sweepActiveCampaigns runs one pass over every active campaign. A failure
// on one campaign never blocks the others.
func (s *CampaignSweeper) sweepActiveCampaigns() {
	ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
	defer cancel()

	campaigns, err := s.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[CampaignSweeper] Error listing active campaigns: %v", err)
		atomic.AddInt64(&s.errors, 1)
		return
	}

	for _, c := range campaigns {
		s.sweepOne(ctx, c.ID)
	}
}

func (s *CampaignSweeper) sweepOne(ctx context.Context, campaignID string) {
	release := func(context.Context) error { return nil }
	if s.redisClient != nil || s.db != nil {
		lock := distlock.NewLock(s.redisClient, s.db, "campaign-sweep:"+campaignID, sweepLockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			log.Printf("[CampaignSweeper] Error acquiring lock for campaign %s: %v", campaignID, err)
			return
		}
		if !acquired {
			// Another worker has this campaign.
			return
		}
		release = lock.Release
	}
	defer release(ctx)

	n, err := s.orc.SweepCampaign(ctx, campaignID)
	if err != nil {
		log.Printf("[CampaignSweeper] Campaign %s sweep error: %v", campaignID, err)
		atomic.AddInt64(&s.errors, 1)
		return
	}

	atomic.AddInt64(&s.campaignsSwept, 1)
	if n > 0 {
		atomic.AddInt64(&s.jobsEnqueued, int64(n))
		log.Printf("[CampaignSweeper] Campaign %s: enqueued %d due prospects", campaignID, n)
	}
}

// =============================================================================
// WORKER REGISTRY
// =============================================================================

func (s *CampaignSweeper) registerWorker() {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(`
		INSERT INTO outreach_workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, 'sweeper', $2, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', last_heartbeat_at = NOW()
	`, s.workerID, hostname())
	if err != nil {
		log.Printf("[CampaignSweeper] Warning: Failed to register worker: %v", err)
	}
}

func (s *CampaignSweeper) deregisterWorker() {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(`
		UPDATE outreach_workers SET status = 'stopped' WHERE id = $1
	`, s.workerID)
	if err != nil {
		log.Printf("[CampaignSweeper] Warning: Failed to deregister worker: %v", err)
	}
}

func (s *CampaignSweeper) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.db.Exec(`
				UPDATE outreach_workers
				SET last_heartbeat_at = NOW(),
				    metadata = $2
				WHERE id = $1
			`, s.workerID, fmt.Sprintf(`{"campaigns_swept": %d, "jobs_enqueued": %d, "errors": %d}`,
				atomic.LoadInt64(&s.campaignsSwept),
				atomic.LoadInt64(&s.jobsEnqueued),
				atomic.LoadInt64(&s.errors)))
		}
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

var _ sweeping = (*campaign.Orchestrator)(nil)
