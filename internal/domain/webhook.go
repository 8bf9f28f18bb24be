package domain

import "time"

// WebhookSubscription is an external endpoint registered to receive signed
// event notifications for a team.
type WebhookSubscription struct {
	ID       string   `json:"id" db:"id"`
	TeamID   string   `json:"team_id" db:"team_id"`
	URL      string   `json:"url" db:"url"`
	Secret   string   `json:"-" db:"secret"`
	Events   []string `json:"events" db:"events"`
	IsActive bool     `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscribed reports whether the subscription wants the given event.
// An empty event set means "all events".
func (s *WebhookSubscription) Subscribed(event string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookDelivery records one delivery attempt to a subscription endpoint.
// One row is appended per attempt so the full retry history is auditable.
type WebhookDelivery struct {
	ID           string    `json:"id" db:"id"`
	WebhookID    string    `json:"webhook_id" db:"webhook_id"`
	Event        string    `json:"event" db:"event"`
	Payload      string    `json:"payload" db:"payload"`
	StatusCode   *int      `json:"status_code" db:"status_code"`
	ResponseBody string    `json:"response_body" db:"response_body"`
	Attempt      int       `json:"attempt" db:"attempt"`
	Success      bool      `json:"success" db:"success"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// WebhookEventPayload is the canonical body delivered to endpoints.
type WebhookEventPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Event names emitted by the engine.
const (
	EventCampaignStarted   = "campaign.started"
	EventCampaignPaused    = "campaign.paused"
	EventCampaignResumed   = "campaign.resumed"
	EventCampaignCompleted = "campaign.completed"
	EventProspectBounced   = "prospect.bounced"
)
