// Package webhook delivers signed event notifications to subscriber
// endpoints. Deliveries run in the background with bounded retries; every
// attempt is recorded so teams can audit what was sent where.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

const (
	// requestTimeout bounds a single delivery attempt.
	requestTimeout = 10 * time.Second

	// maxAttempts is how many times one event is tried per subscription.
	maxAttempts = 3

	// retryStep is the linear backoff unit: attempt n waits n*retryStep.
	retryStep = 5 * time.Second

	// maxRecordedBody caps how much of the endpoint's response is stored.
	maxRecordedBody = 1024
)

// endpointState holds the per-endpoint protection: a circuit breaker that
// fails fast on consistently-broken endpoints, and a rate limiter so one
// chatty campaign can't hammer a subscriber.
type endpointState struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Dispatcher fans events out to webhook subscriptions. It satisfies the
// orchestrator's Notifier contract: Dispatch returns immediately and
// deliveries proceed in the background.
type Dispatcher struct {
	store  Store
	client *http.Client

	mu        sync.Mutex
	endpoints map[string]*endpointState

	breakerTrip uint32 // consecutive failures before the breaker opens

	wg    sync.WaitGroup
	now   func() time.Time
	sleep func(time.Duration)
}

// NewDispatcher creates a webhook dispatcher over the given store.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: requestTimeout},
		endpoints:   make(map[string]*endpointState),
		breakerTrip: 5,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Dispatch delivers an event to every matching subscription of the team.
// It never blocks the caller; failures are retried and recorded in the
// background.
func (d *Dispatcher) Dispatch(ctx context.Context, teamID, event string, data interface{}) {
	subs, err := d.store.ListSubscriptions(ctx, teamID, event)
	if err != nil {
		logger.Error("webhook: list subscriptions failed", "team_id", teamID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(domain.WebhookEventPayload{
		Event:     event,
		Timestamp: d.now().UTC(),
		Data:      data,
	})
	if err != nil {
		logger.Error("webhook: marshal payload failed", "event", event, "error", err)
		return
	}

	for _, sub := range subs {
		sub := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(sub, event, payload)
		}()
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// deliver tries one subscription up to maxAttempts times with linear
// backoff, recording every attempt. Delivery runs detached from the
// originating request context.
func (d *Dispatcher) deliver(sub domain.WebhookSubscription, event string, payload []byte) {
	ep := d.endpoint(sub.URL)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d.sleep(time.Duration(attempt-1) * retryStep)
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout+5*time.Second)
		status, body, err := d.attempt(ctx, ep, sub, event, payload)

		rec := &domain.WebhookDelivery{
			WebhookID:    sub.ID,
			Event:        event,
			Payload:      string(payload),
			ResponseBody: body,
			Attempt:      attempt,
			Success:      err == nil,
			CreatedAt:    d.now().UTC(),
		}
		if status != 0 {
			rec.StatusCode = &status
		}
		if err != nil && body == "" {
			rec.ResponseBody = err.Error()
		}
		if recErr := d.store.RecordDelivery(ctx, rec); recErr != nil {
			logger.Error("webhook: record delivery failed", "webhook_id", sub.ID, "error", recErr)
		}
		cancel()

		if err == nil {
			return
		}
		// Delivery errors can echo payload fragments containing prospect
		// addresses; the structured logger redacts them.
		logger.Warn("webhook: delivery attempt failed",
			"event", event,
			"attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts),
			"url", sub.URL,
			"error", err)
	}
}

// attempt performs one signed POST through the endpoint's rate limiter and
// circuit breaker. An open breaker fails immediately without touching the
// endpoint.
func (d *Dispatcher) attempt(ctx context.Context, ep *endpointState, sub domain.WebhookSubscription, event string, payload []byte) (int, string, error) {
	if err := ep.limiter.Wait(ctx); err != nil {
		return 0, "", fmt.Errorf("rate limit wait: %w", err)
	}

	res, err := ep.breaker.Execute(func() (interface{}, error) {
		return d.post(ctx, sub, event, payload)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return 0, "circuit open", err
	}
	if err != nil {
		if r, ok := res.(postResult); ok {
			return r.status, r.body, err
		}
		return 0, "", err
	}

	r := res.(postResult)
	return r.status, r.body, nil
}

type postResult struct {
	status int
	body   string
}

func (d *Dispatcher) post(ctx context.Context, sub domain.WebhookSubscription, event string, payload []byte) (postResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return postResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set("X-Webhook-Signature", Sign(sub.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return postResult{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRecordedBody))
	result := postResult{status: resp.StatusCode, body: string(raw)}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return result, nil
}

// endpoint returns the shared breaker/limiter pair for a URL.
func (d *Dispatcher) endpoint(url string) *endpointState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ep, ok := d.endpoints[url]; ok {
		return ep
	}

	trip := d.breakerTrip
	ep := &endpointState{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        url,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trip
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	d.endpoints[url] = ep
	return ep
}

// Sign computes the hex HMAC-SHA256 signature endpoints use to verify that
// a payload came from us.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
