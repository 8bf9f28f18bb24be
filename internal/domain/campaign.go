package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of an outreach campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign represents a multi-step outreach campaign with its sending
// configuration and ordered sequence of steps.
type Campaign struct {
	ID         string          `json:"id" db:"id"`
	TeamID     string          `json:"team_id" db:"team_id"`
	AccountID  *string         `json:"account_id" db:"account_id"`
	Name       string          `json:"name" db:"name"`
	Status     CampaignStatus  `json:"status" db:"status"`
	DailyLimit int             `json:"daily_limit" db:"daily_limit"`
	Schedule   SendingSchedule `json:"schedule" db:"schedule"`
	Steps      []SequenceStep  `json:"steps"`

	// Stats (read-only, populated by queries)
	TotalProspects int `json:"total_prospects" db:"total_prospects"`
	SentCount      int `json:"sent_count" db:"sent_count"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
// Terminal campaigns do not accept start/pause/resume commands.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted
}

// StepType identifies the kind of a sequence step. Step handling must be
// exhaustive over these variants; unknown types are a data error, not a
// silent fallthrough.
type StepType string

const (
	StepEmail     StepType = "email"
	StepWait      StepType = "wait"
	StepCondition StepType = "condition"
	StepTask      StepType = "task"
)

// SequenceStep is one ordered unit of a campaign's outreach plan.
// Positions start at 1.
type SequenceStep struct {
	ID         string   `json:"id" db:"id"`
	CampaignID string   `json:"campaign_id" db:"campaign_id"`
	Position   int      `json:"position" db:"position"`
	Type       StepType `json:"type" db:"step_type"`

	// Email step fields
	Subject    string `json:"subject,omitempty" db:"subject"`
	TemplateID string `json:"template_id,omitempty" db:"template_id"`

	// Wait step fields
	DelayDays  int `json:"delay_days" db:"delay_days"`
	DelayHours int `json:"delay_hours" db:"delay_hours"`

	// Condition step fields
	Check string `json:"check,omitempty" db:"check_expr"`
}

// NextEmailStep returns the first email-type step strictly after the given
// position, or nil if the sequence has no further emails. Steps must be
// ordered by Position.
func NextEmailStep(steps []SequenceStep, afterPosition int) *SequenceStep {
	for i := range steps {
		if steps[i].Position <= afterPosition {
			continue
		}
		switch steps[i].Type {
		case StepEmail:
			return &steps[i]
		case StepWait, StepCondition, StepTask:
			// Non-sending steps are skipped when looking for the next send.
			continue
		}
	}
	return nil
}

// HasEmailStep reports whether the sequence contains at least one email step.
// A campaign without one cannot be started.
func HasEmailStep(steps []SequenceStep) bool {
	for i := range steps {
		if steps[i].Type == StepEmail {
			return true
		}
	}
	return false
}

// ProspectStatus enumerates the per-recipient sequence states.
type ProspectStatus string

const (
	ProspectPending      ProspectStatus = "pending"
	ProspectSending      ProspectStatus = "sending"
	ProspectPaused       ProspectStatus = "paused"
	ProspectCompleted    ProspectStatus = "completed"
	ProspectBounced      ProspectStatus = "bounced"
	ProspectUnsubscribed ProspectStatus = "unsubscribed"
)

// IsTerminal returns true for statuses from which no further automatic
// transition occurs.
func (s ProspectStatus) IsTerminal() bool {
	return s == ProspectCompleted || s == ProspectBounced || s == ProspectUnsubscribed
}

// Prospect is a single recipient progressing through a campaign's sequence.
// CurrentStep holds the position of the last completed step, zero before any
// step has run. NextScheduledAt is set only while the prospect is pending or
// sending.
type Prospect struct {
	ID              string         `json:"id" db:"id"`
	CampaignID      string         `json:"campaign_id" db:"campaign_id"`
	Email           string         `json:"email" db:"email"`
	Status          ProspectStatus `json:"status" db:"status"`
	CurrentStep     int            `json:"current_step" db:"current_step"`
	NextScheduledAt *time.Time     `json:"next_scheduled_at" db:"next_scheduled_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}
