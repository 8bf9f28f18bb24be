// Package api exposes the HTTP surface of the outreach engine: campaign
// lifecycle commands, campaign status, and webhook subscription management.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/service/campaign"
)

// Orchestrator is the slice of the campaign service the handlers drive.
type Orchestrator interface {
	StartCampaign(ctx context.Context, id string) (int, error)
	PauseCampaign(ctx context.Context, id string) error
	ResumeCampaign(ctx context.Context, id string) (int, error)
}

// WebhookStore manages webhook subscriptions and their delivery history.
type WebhookStore interface {
	ListTeamSubscriptions(ctx context.Context, teamID string) ([]domain.WebhookSubscription, error)
	CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error
	DeleteSubscription(ctx context.Context, teamID, id string) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]domain.WebhookDelivery, error)
}

// Handlers bundles the API dependencies.
type Handlers struct {
	orc      Orchestrator
	store    campaign.Store
	webhooks WebhookStore
}

// NewHandlers creates the API handler set. webhooks may be nil when the
// webhook surface is disabled.
func NewHandlers(orc Orchestrator, store campaign.Store, webhooks WebhookStore) *Handlers {
	return &Handlers{orc: orc, store: store, webhooks: webhooks}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// =============================================================================
// CAMPAIGN LIFECYCLE
// =============================================================================

// StartCampaign activates a draft campaign and schedules its prospects.
func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	n, err := h.orc.StartCampaign(r.Context(), id)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"enqueued_count": n})
}

// PauseCampaign pauses an active campaign and recalls its queued sends.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	if err := h.orc.PauseCampaign(r.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(domain.CampaignPaused)})
}

// ResumeCampaign re-activates a paused campaign and re-schedules its
// prospects.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	n, err := h.orc.ResumeCampaign(r.Context(), id)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"enqueued_count": n})
}

// GetCampaign returns a campaign with its steps and prospect counts.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeCommandError(w, err)
		return
	}

	counts := map[string]int{}
	for _, st := range []domain.ProspectStatus{
		domain.ProspectPending, domain.ProspectSending, domain.ProspectPaused,
		domain.ProspectCompleted, domain.ProspectBounced, domain.ProspectUnsubscribed,
	} {
		n, err := h.store.CountProspects(r.Context(), id, []domain.ProspectStatus{st})
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		counts[string(st)] = n
	}

	httputil.OK(w, map[string]interface{}{
		"campaign":  c,
		"prospects": counts,
	})
}

// writeCommandError maps orchestrator errors onto HTTP statuses: unknown
// campaign is 404, violated preconditions are 400, everything else 500.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrNoEmailSteps),
		errors.Is(err, campaign.ErrNoEligibleAccount),
		errors.Is(err, campaign.ErrNoPendingProspects):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// =============================================================================
// WEBHOOK SUBSCRIPTIONS
// =============================================================================

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// ListWebhooks returns a team's webhook subscriptions.
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	subs, err := h.webhooks.ListTeamSubscriptions(r.Context(), teamID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if subs == nil {
		subs = []domain.WebhookSubscription{}
	}
	httputil.OK(w, subs)
}

// CreateWebhook registers a new webhook subscription for a team.
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	var req createWebhookRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		httputil.BadRequest(w, "url is required")
		return
	}
	if req.Secret == "" {
		httputil.BadRequest(w, "secret is required")
		return
	}

	sub := &domain.WebhookSubscription{
		TeamID: teamID,
		URL:    req.URL,
		Secret: req.Secret,
		Events: req.Events,
	}
	if err := h.webhooks.CreateSubscription(r.Context(), sub); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sub)
}

// DeleteWebhook removes a team's webhook subscription.
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")
	id := chi.URLParam(r, "webhookID")

	err := h.webhooks.DeleteSubscription(r.Context(), teamID, id)
	if errors.Is(err, campaign.ErrNotFound) {
		httputil.NotFound(w, "webhook not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ListWebhookDeliveries returns the recent delivery attempts of a
// subscription, newest first.
func (h *Handlers) ListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")

	deliveries, err := h.webhooks.ListDeliveries(r.Context(), id, 50)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if deliveries == nil {
		deliveries = []domain.WebhookDelivery{}
	}
	httputil.OK(w, deliveries)
}
