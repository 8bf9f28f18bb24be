package campaign

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/rotation"
	"github.com/ignite/outreach-engine/internal/schedule"
)

const (
	// StaggerInterval spaces consecutive sends within a day so delivery
	// doesn't look bot-like.
	StaggerInterval = 2 * time.Minute

	// SweepBatchSize caps how many due prospects a single sweep pass may
	// enqueue per campaign, independent of how many are technically due.
	SweepBatchSize = 10
)

// CapacityStore reserves one send against an account's shared daily budget.
// It exists so the sweep can run across multiple worker processes without
// relying on implicit process-local state: single-instance deployments use
// the in-memory implementation, multi-instance deployments the Redis one.
type CapacityStore interface {
	// Reserve returns true if a send slot was reserved for the account today.
	Reserve(ctx context.Context, accountID string, limit int) (bool, error)
}

// Orchestrator is the single writer of Campaign and Prospect status. It
// translates lifecycle commands and sweep passes into schedule computations,
// queue operations, and row updates.
type Orchestrator struct {
	store    Store
	queue    queue.Enqueuer
	notifier Notifier
	capacity CapacityStore // optional shared pre-check before ReserveSend

	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewOrchestrator creates the lifecycle orchestrator. notifier may be nil.
func NewOrchestrator(store Store, q queue.Enqueuer, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		store:    store,
		queue:    q,
		notifier: notifier,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetCapacityStore sets the shared daily-capacity store used by the sweep.
func (o *Orchestrator) SetCapacityStore(cs CapacityStore) { o.capacity = cs }

// SetClock overrides the time source (for tests).
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// =============================================================================
// LIFECYCLE COMMANDS
// =============================================================================

// StartCampaign transitions a draft campaign to active, computes a staggered
// send time for every pending prospect, and enqueues one send job each.
// Returns the number of jobs enqueued.
//
// Preconditions (surfaced as typed errors, no state mutated): at least one
// email step, an active and verified sending account, and at least one
// pending prospect.
func (o *Orchestrator) StartCampaign(ctx context.Context, id string) (int, error) {
	c, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignDraft {
		return 0, ErrInvalidTransition
	}
	if !domain.HasEmailStep(c.Steps) {
		return 0, ErrNoEmailSteps
	}

	acct, err := o.verifiedAccount(ctx, c)
	if err != nil {
		return 0, err
	}

	pending, err := o.store.ListProspects(ctx, c.ID, []domain.ProspectStatus{domain.ProspectPending}, 0)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, ErrNoPendingProspects
	}

	ok, err := o.store.TransitionCampaign(ctx, c.ID, domain.CampaignDraft, domain.CampaignActive)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Lost a race with a concurrent command.
		return 0, ErrInvalidTransition
	}

	firstStep := domain.NextEmailStep(c.Steps, 0)
	now := o.now()
	stagger := newStagger(now, c)
	enqueued := 0

	for n, p := range pending {
		sendAt := stagger.sendAt(n)
		if err := o.store.ScheduleProspect(ctx, p.ID, domain.ProspectPending, &sendAt); err != nil {
			log.Printf("[Orchestrator] Campaign %s: failed to schedule prospect %s: %v", c.ID, p.ID, err)
			continue
		}
		if o.enqueueSend(ctx, c, &p, firstStep, acct.ID, sendAt, now) {
			enqueued++
		}
	}

	log.Printf("[Orchestrator] Campaign %s started: %d prospects enqueued", c.ID, enqueued)
	o.notifier.Dispatch(ctx, c.TeamID, domain.EventCampaignStarted, map[string]interface{}{
		"campaign_id": c.ID,
		"enqueued":    enqueued,
	})
	return enqueued, nil
}

// PauseCampaign flips an active campaign to paused, marks in-flight sending
// prospects as paused, and removes every not-yet-executed job belonging to
// the campaign from the delivery queue. Jobs already claimed by a worker are
// not recalled; the worker re-checks campaign status before sending.
func (o *Orchestrator) PauseCampaign(ctx context.Context, id string) error {
	c, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive {
		return ErrInvalidTransition
	}

	ok, err := o.store.TransitionCampaign(ctx, c.ID, domain.CampaignActive, domain.CampaignPaused)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}

	flipped, err := o.store.BulkTransitionProspects(ctx, c.ID, domain.ProspectSending, domain.ProspectPaused)
	if err != nil {
		log.Printf("[Orchestrator] Campaign %s: pause prospect flip error: %v", c.ID, err)
	}

	removed := o.removeQueuedJobs(ctx, c.ID)
	log.Printf("[Orchestrator] Campaign %s paused: %d prospects paused, %d queued jobs removed",
		c.ID, flipped, removed)

	o.notifier.Dispatch(ctx, c.TeamID, domain.EventCampaignPaused, map[string]interface{}{
		"campaign_id":  c.ID,
		"jobs_removed": removed,
	})
	return nil
}

// ResumeCampaign transitions a paused campaign back to active and
// re-schedules every prospect that was in flight or waiting when the pause
// happened. Prospects with no email step remaining are completed instead.
// Each re-enqueued prospect is offset by StaggerInterval from the previous
// one to avoid a burst.
func (o *Orchestrator) ResumeCampaign(ctx context.Context, id string) (int, error) {
	c, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignPaused {
		return 0, ErrInvalidTransition
	}

	acct, err := o.verifiedAccount(ctx, c)
	if err != nil {
		return 0, err
	}

	ok, err := o.store.TransitionCampaign(ctx, c.ID, domain.CampaignPaused, domain.CampaignActive)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidTransition
	}

	prospects, err := o.store.ListProspects(ctx, c.ID,
		[]domain.ProspectStatus{domain.ProspectPaused, domain.ProspectPending}, 0)
	if err != nil {
		return 0, err
	}

	now := o.now()
	windowStart := schedule.NextSendTime(now, 0, 0, c.Schedule)
	enqueued := 0
	slot := 0

	for _, p := range prospects {
		step := domain.NextEmailStep(c.Steps, p.CurrentStep)
		if step == nil {
			if err := o.store.CompleteProspect(ctx, p.ID); err != nil {
				log.Printf("[Orchestrator] Campaign %s: complete prospect %s error: %v", c.ID, p.ID, err)
			}
			continue
		}

		sendAt := windowStart.Add(time.Duration(slot) * StaggerInterval)
		slot++

		if err := o.store.ScheduleProspect(ctx, p.ID, domain.ProspectPending, &sendAt); err != nil {
			log.Printf("[Orchestrator] Campaign %s: failed to reschedule prospect %s: %v", c.ID, p.ID, err)
			continue
		}
		if o.enqueueSend(ctx, c, &p, step, acct.ID, sendAt, now) {
			enqueued++
		}
	}

	log.Printf("[Orchestrator] Campaign %s resumed: %d prospects re-enqueued", c.ID, enqueued)
	o.notifier.Dispatch(ctx, c.TeamID, domain.EventCampaignResumed, map[string]interface{}{
		"campaign_id": c.ID,
		"enqueued":    enqueued,
	})
	return enqueued, nil
}

// =============================================================================
// PERIODIC SWEEP
// =============================================================================

// SweepCampaign processes one campaign for one sweep pass: completes it when
// no prospects remain, skips it outside the sending window or without account
// capacity, and otherwise enqueues up to the batch cap of due prospects.
// Returns the number of jobs enqueued.
//
// The campaign's status is re-read here so a pause that landed after the
// sweep listed campaigns is honored (removed jobs must not be re-created).
func (o *Orchestrator) SweepCampaign(ctx context.Context, id string) (int, error) {
	c, err := o.store.GetCampaign(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignActive {
		return 0, nil
	}

	// Automatic completion: no prospects left in flight or waiting.
	remaining, err := o.store.CountProspects(ctx, c.ID,
		[]domain.ProspectStatus{domain.ProspectPending, domain.ProspectSending})
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		if ok, _ := o.store.TransitionCampaign(ctx, c.ID, domain.CampaignActive, domain.CampaignCompleted); ok {
			log.Printf("[Orchestrator] Campaign %s completed", c.ID)
			o.notifier.Dispatch(ctx, c.TeamID, domain.EventCampaignCompleted, map[string]interface{}{
				"campaign_id": c.ID,
			})
		}
		return 0, nil
	}

	now := o.now()
	if !schedule.IsWithinWindow(c.Schedule, now) {
		return 0, nil
	}

	acct := o.sweepAccount(ctx, c)
	if acct == nil {
		// No eligible account right now: skip, don't fail. The next sweep
		// retries after limits reset or health recovers.
		return 0, nil
	}

	capacity := acct.RemainingToday()
	if capacity <= 0 {
		return 0, nil
	}

	batch := c.DailyLimit
	if capacity < batch {
		batch = capacity
	}
	if batch > SweepBatchSize {
		batch = SweepBatchSize
	}

	due, err := o.store.ListDueProspects(ctx, c.ID, now, batch)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, p := range due {
		step := domain.NextEmailStep(c.Steps, p.CurrentStep)
		if step == nil {
			if err := o.store.CompleteProspect(ctx, p.ID); err != nil {
				log.Printf("[Orchestrator] Campaign %s: complete prospect %s error: %v", c.ID, p.ID, err)
			}
			continue
		}

		// Shared pre-check first (cheap, multi-process safe), then the
		// authoritative per-row reservation.
		if o.capacity != nil {
			ok, err := o.capacity.Reserve(ctx, acct.ID, acct.DailyLimit)
			if err != nil {
				log.Printf("[Orchestrator] Campaign %s: capacity store error: %v", c.ID, err)
			} else if !ok {
				break
			}
		}
		reserved, err := o.store.ReserveSend(ctx, acct.ID)
		if err != nil {
			return enqueued, err
		}
		if !reserved {
			break
		}

		// Row update before enqueue: the job id is idempotent, so a crash
		// here is recovered by the next sweep re-issuing the same job.
		if err := o.store.ScheduleProspect(ctx, p.ID, domain.ProspectSending, p.NextScheduledAt); err != nil {
			log.Printf("[Orchestrator] Campaign %s: mark sending %s error: %v", c.ID, p.ID, err)
			continue
		}
		if o.enqueueSend(ctx, c, &p, step, acct.ID, now, now) {
			enqueued++
		}
	}

	return enqueued, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// stagger computes per-prospect send instants at campaign start. The window
// instant is resolved once per day offset and shared by every prospect
// scheduled that day, so slots within a day sit exactly StaggerInterval
// apart even when the window snap adds jitter.
type stagger struct {
	base     time.Time
	sched    domain.SendingSchedule
	limit    int
	dayBases map[int]time.Time
}

func newStagger(base time.Time, c *domain.Campaign) *stagger {
	limit := c.DailyLimit
	if limit <= 0 {
		limit = 1
	}
	return &stagger{
		base:     base,
		sched:    c.Schedule,
		limit:    limit,
		dayBases: make(map[int]time.Time),
	}
}

// sendAt returns the n-th prospect's instant: the shared window instant
// n/limit days out, plus a 2-minute slot for n mod limit.
func (s *stagger) sendAt(n int) time.Time {
	dayOffset := n / s.limit
	windowStart, ok := s.dayBases[dayOffset]
	if !ok {
		windowStart = schedule.NextSendTime(s.base, dayOffset, 0, s.sched)
		s.dayBases[dayOffset] = windowStart
	}
	return windowStart.Add(time.Duration(n%s.limit) * StaggerInterval)
}

// enqueueSend marshals and enqueues one send job, delayed until sendAt.
// Returns true when a new job was added (false on dedup or error).
func (o *Orchestrator) enqueueSend(ctx context.Context, c *domain.Campaign, p *domain.Prospect, step *domain.SequenceStep, accountID string, sendAt, now time.Time) bool {
	job := domain.SendJob{
		ProspectID: p.ID,
		CampaignID: c.ID,
		StepID:     step.ID,
		AccountID:  accountID,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		log.Printf("[Orchestrator] Campaign %s: marshal job for %s: %v", c.ID, p.ID, err)
		return false
	}

	delay := sendAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	added, err := o.queue.Enqueue(ctx, domain.QueueSend, job.DedupKey(), payload, queue.Options{Delay: delay})
	if err != nil {
		log.Printf("[Orchestrator] Campaign %s: enqueue for %s: %v", c.ID, p.ID, err)
		return false
	}
	return added
}

// removeQueuedJobs removes every delayed and waiting send job belonging to
// the campaign. Returns the number removed.
func (o *Orchestrator) removeQueuedJobs(ctx context.Context, campaignID string) int {
	removed := 0
	for _, list := range []func(context.Context, string) ([]queue.Job, error){
		o.queue.ListDelayed, o.queue.ListWaiting,
	} {
		jobs, err := list(ctx, domain.QueueSend)
		if err != nil {
			log.Printf("[Orchestrator] Campaign %s: list queued jobs: %v", campaignID, err)
			continue
		}
		for _, j := range jobs {
			var sj domain.SendJob
			if err := json.Unmarshal(j.Payload, &sj); err != nil || sj.CampaignID != campaignID {
				continue
			}
			if err := o.queue.Remove(ctx, domain.QueueSend, j.ID); err != nil {
				log.Printf("[Orchestrator] Campaign %s: remove job %s: %v", campaignID, j.ID, err)
				continue
			}
			removed++
		}
	}
	return removed
}

// verifiedAccount resolves the sending account required to start or resume a
// campaign: the owning account when it is active and verified, otherwise a
// rotation pick over the team's accounts. Returns ErrNoEligibleAccount when
// neither yields a usable account.
func (o *Orchestrator) verifiedAccount(ctx context.Context, c *domain.Campaign) (*domain.SendAccount, error) {
	if c.AccountID != nil {
		a, err := o.store.GetAccount(ctx, *c.AccountID)
		if err == nil && a.IsActive && a.IsVerified {
			return a, nil
		}
	}

	accounts, err := o.store.ListTeamAccounts(ctx, c.TeamID)
	if err != nil {
		return nil, err
	}
	// Rotation only considers verified accounts for lifecycle commands.
	verified := accounts[:0]
	for _, a := range accounts {
		if a.IsVerified {
			verified = append(verified, a)
		}
	}
	if a := o.pick(verified); a != nil {
		return a, nil
	}
	return nil, ErrNoEligibleAccount
}

// sweepAccount resolves the account a sweep pass sends through: the owning
// account when eligible, otherwise a rotation pick. nil means skip.
func (o *Orchestrator) sweepAccount(ctx context.Context, c *domain.Campaign) *domain.SendAccount {
	if c.AccountID != nil {
		a, err := o.store.GetAccount(ctx, *c.AccountID)
		if err != nil {
			log.Printf("[Orchestrator] Campaign %s: load account: %v", c.ID, err)
			return nil
		}
		if rotation.Eligible(a) {
			return a
		}
		return nil
	}

	accounts, err := o.store.ListTeamAccounts(ctx, c.TeamID)
	if err != nil {
		log.Printf("[Orchestrator] Campaign %s: list team accounts: %v", c.ID, err)
		return nil
	}
	return o.pick(accounts)
}

func (o *Orchestrator) pick(accounts []domain.SendAccount) *domain.SendAccount {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return rotation.Pick(accounts, o.rng)
}
