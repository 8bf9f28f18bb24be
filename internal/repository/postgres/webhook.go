package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// WebhookStore implements webhook.Store plus the subscription management the
// API surface needs.
type WebhookStore struct{ db *sql.DB }

// NewWebhookStore creates a Postgres-backed webhook store.
func NewWebhookStore(db *sql.DB) *WebhookStore { return &WebhookStore{db: db} }

// ListSubscriptions returns the team's active subscriptions wanting the
// event. An empty events array means the subscription wants everything.
func (s *WebhookStore) ListSubscriptions(ctx context.Context, teamID, event string) ([]domain.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, url, secret, events, is_active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE team_id = $1
		  AND is_active = true
		  AND (events = '{}' OR $2 = ANY(events))
	`, teamID, event)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListTeamSubscriptions returns every subscription of a team, active or not.
func (s *WebhookStore) ListTeamSubscriptions(ctx context.Context, teamID string) ([]domain.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, url, secret, events, is_active, created_at, updated_at
		FROM webhook_subscriptions
		WHERE team_id = $1
		ORDER BY created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// CreateSubscription inserts a subscription, generating its id when empty.
func (s *WebhookStore) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, team_id, url, secret, events, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, NOW(), NOW())
	`, sub.ID, sub.TeamID, sub.URL, sub.Secret, pq.Array(sub.Events))
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a team's subscription.
func (s *WebhookStore) DeleteSubscription(ctx context.Context, teamID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM webhook_subscriptions WHERE id = $1 AND team_id = $2
	`, id, teamID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// RecordDelivery appends one delivery attempt to the audit trail.
func (s *WebhookStore) RecordDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event, payload, status_code, response_body, attempt, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, d.ID, d.WebhookID, d.Event, d.Payload, d.StatusCode, d.ResponseBody, d.Attempt, d.Success)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the newest delivery attempts for a subscription.
func (s *WebhookStore) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event, payload, status_code, COALESCE(response_body, ''),
		       attempt, success, created_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookDelivery
	for rows.Next() {
		var d domain.WebhookDelivery
		if err := rows.Scan(
			&d.ID, &d.WebhookID, &d.Event, &d.Payload, &d.StatusCode,
			&d.ResponseBody, &d.Attempt, &d.Success, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanSubscriptions(rows *sql.Rows) ([]domain.WebhookSubscription, error) {
	var out []domain.WebhookSubscription
	for rows.Next() {
		var sub domain.WebhookSubscription
		if err := rows.Scan(
			&sub.ID, &sub.TeamID, &sub.URL, &sub.Secret, pq.Array(&sub.Events),
			&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
