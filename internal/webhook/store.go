package webhook

import (
	"context"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Store is the data access contract for webhook subscriptions and their
// delivery audit trail.
type Store interface {
	// ListSubscriptions returns the team's active subscriptions that want
	// the given event.
	ListSubscriptions(ctx context.Context, teamID, event string) ([]domain.WebhookSubscription, error)

	// RecordDelivery appends one delivery attempt record. Every attempt is
	// recorded, including failures and short-circuited ones.
	RecordDelivery(ctx context.Context, d *domain.WebhookDelivery) error
}
