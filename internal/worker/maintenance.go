package worker

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// =============================================================================
// ACCOUNT MAINTENANCE WORKER
// =============================================================================
// Keeps sending accounts healthy and their daily counters fresh:
//   1. At UTC midnight, sent_today resets to zero on every account.
//   2. Periodically, health_score is recomputed from bounce/spam/error counts
//      and accounts that fall below the threshold are deactivated so the
//      rotation stops picking them.

const (
	// DefaultMaintenanceInterval is how often health is recomputed and the
	// day rollover is checked.
	DefaultMaintenanceInterval = 5 * time.Minute
)

// AccountMaintenance runs the periodic account upkeep tasks.
type AccountMaintenance struct {
	db       *sql.DB
	interval time.Duration
	lastDay  string
	now      func() time.Time
}

// NewAccountMaintenance creates a maintenance worker with default timing.
func NewAccountMaintenance(db *sql.DB) *AccountMaintenance {
	return &AccountMaintenance{
		db:       db,
		interval: DefaultMaintenanceInterval,
		now:      time.Now,
	}
}

// SetInterval overrides the maintenance cadence.
func (m *AccountMaintenance) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start begins the maintenance loop. It blocks until ctx is cancelled.
func (m *AccountMaintenance) Start(ctx context.Context) {
	log.Printf("[AccountMaintenance] Starting (interval=%s)", m.interval)
	m.lastDay = m.now().UTC().Format("2006-01-02")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[AccountMaintenance] Stopping")
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// runOnce performs a single maintenance pass.
func (m *AccountMaintenance) runOnce(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if day := m.now().UTC().Format("2006-01-02"); day != m.lastDay {
		m.lastDay = day
		m.resetDailyCounters(queryCtx)
	}

	m.recomputeHealth(queryCtx)
	m.deactivateUnhealthy(queryCtx)
}

// resetDailyCounters zeroes sent_today across all accounts at day rollover.
func (m *AccountMaintenance) resetDailyCounters(ctx context.Context) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE send_accounts
		SET sent_today = 0, updated_at = NOW()
		WHERE sent_today > 0
	`)
	if err != nil {
		log.Printf("[AccountMaintenance] Error resetting daily counters: %v", err)
		return
	}
	if count, _ := res.RowsAffected(); count > 0 {
		log.Printf("[AccountMaintenance] Reset sent_today on %d accounts", count)
	}
}

// recomputeHealth rewrites health_score from the weighted event counts.
// Spam reports weigh more than bounces, hard errors weigh most.
func (m *AccountMaintenance) recomputeHealth(ctx context.Context) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE send_accounts
		SET health_score = GREATEST(0, 100 - bounce_count*2 - spam_count*5 - error_count*10),
		    updated_at = NOW()
		WHERE health_score <> GREATEST(0, 100 - bounce_count*2 - spam_count*5 - error_count*10)
	`)
	if err != nil {
		log.Printf("[AccountMaintenance] Error recomputing health scores: %v", err)
		return
	}
	if count, _ := res.RowsAffected(); count > 0 {
		log.Printf("[AccountMaintenance] Recomputed health on %d accounts", count)
	}
}

// deactivateUnhealthy turns off accounts whose health fell below the
// threshold so the rotation stops selecting them. Reactivation is a manual
// operation after the owner investigates.
func (m *AccountMaintenance) deactivateUnhealthy(ctx context.Context) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE send_accounts
		SET is_active = false, updated_at = NOW()
		WHERE is_active = true AND health_score < $1
	`, domain.HealthDeactivateThreshold)
	if err != nil {
		log.Printf("[AccountMaintenance] Error deactivating unhealthy accounts: %v", err)
		return
	}
	if count, _ := res.RowsAffected(); count > 0 {
		log.Printf("[AccountMaintenance] Deactivated %d unhealthy accounts", count)
	}
}
