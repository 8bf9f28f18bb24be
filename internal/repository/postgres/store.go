// Package postgres implements the persistence contracts against PostgreSQL
// using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// CampaignStore implements campaign.Store against PostgreSQL.
type CampaignStore struct{ db *sql.DB }

// NewCampaignStore creates a Postgres-backed campaign store.
func NewCampaignStore(db *sql.DB) *CampaignStore { return &CampaignStore{db: db} }

func (s *CampaignStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var accountID sql.NullString
	var scheduleRaw []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.team_id, c.account_id, c.name, c.status, c.daily_limit,
		       COALESCE(c.schedule, '{}'),
		       (SELECT COUNT(*) FROM prospects p WHERE p.campaign_id = c.id),
		       c.sent_count, c.started_at, c.completed_at, c.created_at, c.updated_at
		FROM campaigns c
		WHERE c.id = $1
	`, id).Scan(
		&c.ID, &c.TeamID, &accountID, &c.Name, &c.Status, &c.DailyLimit,
		&scheduleRaw, &c.TotalProspects, &c.SentCount,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	if accountID.Valid {
		c.AccountID = &accountID.String
	}
	if len(scheduleRaw) > 0 {
		// A malformed stored schedule falls back to the default downstream.
		json.Unmarshal(scheduleRaw, &c.Schedule)
	}

	steps, err := s.loadSteps(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return c, nil
}

func (s *CampaignStore) loadSteps(ctx context.Context, campaignID string) ([]domain.SequenceStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, position, step_type,
		       COALESCE(subject, ''), COALESCE(template_id, ''),
		       delay_days, delay_hours, COALESCE(check_expr, '')
		FROM sequence_steps
		WHERE campaign_id = $1
		ORDER BY position ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.SequenceStep
	for rows.Next() {
		var st domain.SequenceStep
		if err := rows.Scan(
			&st.ID, &st.CampaignID, &st.Position, &st.Type,
			&st.Subject, &st.TemplateID,
			&st.DelayDays, &st.DelayHours, &st.Check,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *CampaignStore) ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM campaigns WHERE status = 'active' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCampaign(ctx, id)
		if err == campaign.ErrNotFound {
			continue // deleted between listing and load
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// TransitionCampaign is a compare-and-set status update: the row changes only
// if it is still in the expected status, so concurrent commands can't both
// win. started_at and completed_at are stamped on the matching transitions.
func (s *CampaignStore) TransitionCampaign(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $3,
		    started_at = CASE WHEN $3 = 'active' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *CampaignStore) ListProspects(ctx context.Context, campaignID string, statuses []domain.ProspectStatus, limit int) ([]domain.Prospect, error) {
	q := `
		SELECT id, campaign_id, email, status, current_step, next_scheduled_at,
		       created_at, updated_at
		FROM prospects
		WHERE campaign_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC, id ASC`
	args := []interface{}{campaignID, pq.Array(statusStrings(statuses))}
	if limit > 0 {
		q += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list prospects: %w", err)
	}
	defer rows.Close()
	return scanProspects(rows)
}

func (s *CampaignStore) ListDueProspects(ctx context.Context, campaignID string, now time.Time, limit int) ([]domain.Prospect, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, email, status, current_step, next_scheduled_at,
		       created_at, updated_at
		FROM prospects
		WHERE campaign_id = $1
		  AND status = 'pending'
		  AND next_scheduled_at IS NOT NULL
		  AND next_scheduled_at <= $2
		ORDER BY next_scheduled_at ASC
		LIMIT $3
	`, campaignID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due prospects: %w", err)
	}
	defer rows.Close()
	return scanProspects(rows)
}

func (s *CampaignStore) CountProspects(ctx context.Context, campaignID string, statuses []domain.ProspectStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM prospects WHERE campaign_id = $1 AND status = ANY($2)
	`, campaignID, pq.Array(statusStrings(statuses))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prospects: %w", err)
	}
	return n, nil
}

func (s *CampaignStore) ScheduleProspect(ctx context.Context, prospectID string, status domain.ProspectStatus, nextAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE prospects
		SET status = $2, next_scheduled_at = $3, updated_at = NOW()
		WHERE id = $1
	`, prospectID, status, nextAt)
	if err != nil {
		return fmt.Errorf("schedule prospect: %w", err)
	}
	return nil
}

func (s *CampaignStore) CompleteProspect(ctx context.Context, prospectID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE prospects
		SET status = 'completed', next_scheduled_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, prospectID)
	if err != nil {
		return fmt.Errorf("complete prospect: %w", err)
	}
	return nil
}

func (s *CampaignStore) BulkTransitionProspects(ctx context.Context, campaignID string, from, to domain.ProspectStatus) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospects
		SET status = $3, updated_at = NOW()
		WHERE campaign_id = $1 AND status = $2
	`, campaignID, from, to)
	if err != nil {
		return 0, fmt.Errorf("bulk transition prospects: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *CampaignStore) GetAccount(ctx context.Context, id string) (*domain.SendAccount, error) {
	a := &domain.SendAccount{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, email, daily_limit, sent_today, health_score,
		       is_active, is_verified, bounce_count, spam_count, error_count,
		       last_connected_at, created_at, updated_at
		FROM send_accounts
		WHERE id = $1
	`, id).Scan(
		&a.ID, &a.TeamID, &a.Email, &a.DailyLimit, &a.SentToday, &a.HealthScore,
		&a.IsActive, &a.IsVerified, &a.BounceCount, &a.SpamCount, &a.ErrorCount,
		&a.LastConnectedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *CampaignStore) ListTeamAccounts(ctx context.Context, teamID string) ([]domain.SendAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, email, daily_limit, sent_today, health_score,
		       is_active, is_verified, bounce_count, spam_count, error_count,
		       last_connected_at, created_at, updated_at
		FROM send_accounts
		WHERE team_id = $1
		ORDER BY created_at ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.SendAccount
	for rows.Next() {
		var a domain.SendAccount
		if err := rows.Scan(
			&a.ID, &a.TeamID, &a.Email, &a.DailyLimit, &a.SentToday, &a.HealthScore,
			&a.IsActive, &a.IsVerified, &a.BounceCount, &a.SpamCount, &a.ErrorCount,
			&a.LastConnectedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReserveSend atomically takes one slot of the account's daily budget. The
// guard lives in the WHERE clause so two workers can't both take the last
// slot.
func (s *CampaignStore) ReserveSend(ctx context.Context, accountID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE send_accounts
		SET sent_today = sent_today + 1, last_connected_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active = true AND sent_today < daily_limit
	`, accountID)
	if err != nil {
		return false, fmt.Errorf("reserve send: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanProspects(rows *sql.Rows) ([]domain.Prospect, error) {
	var out []domain.Prospect
	for rows.Next() {
		var p domain.Prospect
		if err := rows.Scan(
			&p.ID, &p.CampaignID, &p.Email, &p.Status, &p.CurrentStep,
			&p.NextScheduledAt, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func statusStrings(statuses []domain.ProspectStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
