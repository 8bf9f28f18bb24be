package campaign

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Store defines the data access contract the orchestrator and sweep need.
// Implementations must be safe for concurrent use; all mutations are scoped
// to a single campaign, prospect, or account row; there are no cross-row
// transactions to hold open.
type Store interface {
	// GetCampaign returns a campaign with its sequence steps loaded, ordered
	// by position. Returns ErrNotFound if it doesn't exist.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// ListActiveCampaigns returns every campaign in active status, steps
	// loaded. The sweep re-reads each campaign's status before processing it.
	ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error)

	// TransitionCampaign performs a compare-and-set status update. Returns
	// false when the campaign was not in the expected status (lost race or
	// invalid transition).
	TransitionCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error)

	// ListProspects returns the campaign's prospects in the given statuses,
	// ordered by creation, up to limit (0 = no limit).
	ListProspects(ctx context.Context, campaignID string, statuses []domain.ProspectStatus, limit int) ([]domain.Prospect, error)

	// ListDueProspects returns pending prospects whose nextScheduledAt has
	// elapsed, soonest first, up to limit.
	ListDueProspects(ctx context.Context, campaignID string, now time.Time, limit int) ([]domain.Prospect, error)

	// CountProspects counts the campaign's prospects in the given statuses.
	CountProspects(ctx context.Context, campaignID string, statuses []domain.ProspectStatus) (int, error)

	// ScheduleProspect sets a prospect's status and nextScheduledAt.
	ScheduleProspect(ctx context.Context, prospectID string, status domain.ProspectStatus, nextAt *time.Time) error

	// CompleteProspect marks a prospect completed and clears nextScheduledAt.
	CompleteProspect(ctx context.Context, prospectID string) error

	// BulkTransitionProspects moves every prospect of the campaign from one
	// status to another, returning the number changed.
	BulkTransitionProspects(ctx context.Context, campaignID string, from, to domain.ProspectStatus) (int, error)

	// GetAccount returns a sending account by id.
	GetAccount(ctx context.Context, id string) (*domain.SendAccount, error)

	// ListTeamAccounts returns all sending accounts belonging to a team.
	ListTeamAccounts(ctx context.Context, teamID string) ([]domain.SendAccount, error)

	// ReserveSend atomically increments the account's sent_today and stamps
	// last_connected_at, guarded by the daily limit and active flag. Returns
	// false when the account has no remaining capacity.
	ReserveSend(ctx context.Context, accountID string) (bool, error)
}

// Notifier delivers campaign events to external webhook subscribers. Dispatch
// must not block the orchestrator; implementations deliver in the background.
type Notifier interface {
	Dispatch(ctx context.Context, teamID, event string, data interface{})
}

// NopNotifier discards events; used when webhooks are disabled.
type NopNotifier struct{}

func (NopNotifier) Dispatch(context.Context, string, string, interface{}) {}
