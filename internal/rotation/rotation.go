// Package rotation selects which sending account handles the next send.
// Selection is a weighted random draw over healthy accounts with remaining
// daily capacity, so traffic spreads proportionally to reputation and
// headroom instead of hammering a single mailbox.
package rotation

import (
	"math/rand"

	"github.com/ignite/outreach-engine/internal/domain"
)

// HealthScore computes the 0-100 reputation proxy for a sending account.
//
// Weights: bounces x2, spam reports x5, hard errors x10. This is the
// continuous-update formula applied on every event; the same weights are used
// by the daily aggregation job so the two paths can never disagree.
func HealthScore(bounces, spamReports, errors int) int {
	score := 100 - bounces*2 - spamReports*5 - errors*10
	if score < 0 {
		return 0
	}
	return score
}

// Eligible reports whether the account is a rotation candidate: active and
// under its daily cap.
func Eligible(a *domain.SendAccount) bool {
	return a.IsActive && a.SentToday < a.DailyLimit
}

// Weight returns the selection weight for an eligible account:
// healthScore scaled by the fraction of daily capacity still unused.
func Weight(a *domain.SendAccount) float64 {
	if a.DailyLimit <= 0 {
		return 0
	}
	return float64(a.HealthScore) * float64(a.DailyLimit-a.SentToday) / float64(a.DailyLimit)
}

// Pick draws one account from the candidates, weighted by Weight. Ineligible
// accounts are never returned. If every eligible candidate has zero weight
// the first eligible one is used. Returns nil when no candidate is eligible;
// the caller must skip or delay the send rather than fail.
func Pick(accounts []domain.SendAccount, rng *rand.Rand) *domain.SendAccount {
	var eligible []*domain.SendAccount
	total := 0.0
	for i := range accounts {
		if !Eligible(&accounts[i]) {
			continue
		}
		eligible = append(eligible, &accounts[i])
		total += Weight(&accounts[i])
	}

	if len(eligible) == 0 {
		return nil
	}
	if total <= 0 {
		return eligible[0]
	}

	// Cumulative-weight draw.
	r := rng.Float64() * total
	cum := 0.0
	for _, a := range eligible {
		cum += Weight(a)
		if r < cum {
			return a
		}
	}
	// Floating point slack on the last boundary.
	return eligible[len(eligible)-1]
}
