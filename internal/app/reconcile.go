/**
 * @description
 * Reconciliation loop for the settlement-service. Webhooks are best-effort;
 * this loop is the safety net that converges payments whose callbacks were
 * lost. On each run it scans non-terminal payments updated inside a trailing
 * window, polls the provider for the authoritative status of each open leg,
 * re-fires the payout trigger where the collection completed but the payout
 * never left PENDING, and raises an aging alert for payments stuck beyond the
 * configured thresholds.
 *
 * Failures are isolated per payment: one payment erroring is counted and
 * logged but never aborts the rest of the batch.
 *
 * @dependencies
 * - internal/domain, internal/store: Payment model and queries.
 * - pkg/bankclient (via ProviderGateway): Authoritative status polling.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
	"github.com/google/uuid"
)

// ReconcilerOptions carries the loop's tunables.
type ReconcilerOptions struct {
	Window             time.Duration
	BatchLimit         int
	CollectionAgeAlert time.Duration
	PayoutAgeAlert     time.Duration
}

// Reconciler converges open payments against the provider's view.
type Reconciler struct {
	repo    store.Repository
	gateway ProviderGateway
	ledger  *Service
	opts    ReconcilerOptions
}

// NewReconciler creates a reconciler bound to the ledger and provider gateway.
func NewReconciler(repo store.Repository, gateway ProviderGateway, ledger *Service, opts ReconcilerOptions) *Reconciler {
	if opts.Window <= 0 {
		opts.Window = 7 * 24 * time.Hour
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 500
	}
	if opts.CollectionAgeAlert <= 0 {
		opts.CollectionAgeAlert = 2 * time.Hour
	}
	if opts.PayoutAgeAlert <= 0 {
		opts.PayoutAgeAlert = 4 * time.Hour
	}
	return &Reconciler{repo: repo, gateway: gateway, ledger: ledger, opts: opts}
}

// Run executes one reconciliation pass and returns its summary.
func (r *Reconciler) Run(ctx context.Context) (domain.ReconcileSummary, error) {
	start := time.Now()
	summary := domain.ReconcileSummary{StartedAt: start.UTC()}

	since := start.Add(-r.opts.Window)
	payments, err := r.repo.ListUnsettledPayments(ctx, since, r.opts.BatchLimit)
	if err != nil {
		return summary, fmt.Errorf("list unsettled payments: %w", err)
	}
	summary.Scanned = len(payments)

	for i := range payments {
		p := &payments[i]
		if err := r.reconcileOne(ctx, p, &summary); err != nil {
			summary.Errors++
			log.Printf("level=warn component=reconciler msg=\"payment reconciliation failed\" payment_id=%s err=%v", p.ID, err)
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}

	summary.Duration = time.Since(start)
	log.Printf("level=info component=reconciler outcome=run_complete scanned=%d advanced=%d retriggered=%d alerts=%d errors=%d duration=%s",
		summary.Scanned, summary.Advanced, summary.PayoutsRetriggered, summary.Alerts, summary.Errors, summary.Duration)
	return summary, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, p *domain.Payment, summary *domain.ReconcileSummary) error {
	if !p.CollectionStatus.Terminal() && p.CollectionProviderRef != nil {
		resp, err := r.gateway.GetStatus(ctx, *p.CollectionProviderRef, string(domain.LegCollection))
		if err != nil {
			return fmt.Errorf("poll collection status: %w", err)
		}
		next := domain.NormalizeCollectionStatus(resp.Status)
		if domain.CollectionTransitionAllowed(p.CollectionStatus, next) {
			refs := &domain.ProviderRefs{TransactionID: *p.CollectionProviderRef, UTR: resp.UTR, RRN: resp.RRN}
			if err := r.ledger.ApplyCollectionStatus(ctx, p.ID, next, refs); err != nil {
				return fmt.Errorf("apply collection status: %w", err)
			}
			summary.Advanced++
		}
		// Re-read: the collection transition may have auto-triggered the payout.
		refreshed, err := r.repo.FindPaymentByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("refresh payment: %w", err)
		}
		*p = *refreshed
	}

	if p.CollectionStatus == domain.CollectionCompleted && p.PayoutStatus == domain.PayoutPending {
		r.ledger.EnsurePayout(ctx, p.ID)
		refreshed, err := r.repo.FindPaymentByID(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("refresh payment: %w", err)
		}
		*p = *refreshed
		// A provider failure reverts the latch to PENDING, so only a payout
		// observed in flight counts as retriggered.
		if p.PayoutStatus == domain.PayoutProcessing {
			summary.PayoutsRetriggered++
		}
	}

	if p.PayoutStatus == domain.PayoutProcessing && p.PayoutProviderRef != nil {
		resp, err := r.gateway.GetStatus(ctx, *p.PayoutProviderRef, string(domain.LegPayout))
		if err != nil {
			return fmt.Errorf("poll payout status: %w", err)
		}
		next := domain.NormalizePayoutStatus(resp.Status)
		if domain.PayoutTransitionAllowed(p.PayoutStatus, next) {
			refs := &domain.ProviderRefs{TransactionID: *p.PayoutProviderRef, UTR: resp.UTR, RRN: resp.RRN}
			if err := r.ledger.ApplyPayoutStatus(ctx, p.ID, next, refs); err != nil {
				return fmt.Errorf("apply payout status: %w", err)
			}
			summary.Advanced++
			refreshed, err := r.repo.FindPaymentByID(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("refresh payment: %w", err)
			}
			*p = *refreshed
		}
	}

	raised, err := r.maybeRaiseAgingAlert(ctx, p)
	if err != nil {
		return err
	}
	if raised {
		summary.Alerts++
	}
	return nil
}

// maybeRaiseAgingAlert flags a payment stuck past the leg's age threshold.
// The history existence check makes the alert at-most-once per payment.
func (r *Reconciler) maybeRaiseAgingAlert(ctx context.Context, p *domain.Payment) (bool, error) {
	age := time.Since(p.CreatedAt)
	var stuckLeg domain.Leg
	switch {
	case !p.CollectionStatus.Terminal() && age > r.opts.CollectionAgeAlert:
		stuckLeg = domain.LegCollection
	case p.CollectionStatus == domain.CollectionCompleted && !p.PayoutStatus.Terminal() && age > r.opts.PayoutAgeAlert:
		stuckLeg = domain.LegPayout
	default:
		return false, nil
	}

	exists, err := r.repo.HasStatusHistory(ctx, p.ID, domain.HistoryAlertAged)
	if err != nil {
		return false, fmt.Errorf("aging alert lookup: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := r.repo.AppendStatusHistory(ctx, &domain.StatusHistoryEntry{
		ID:        uuid.New(),
		PaymentID: p.ID,
		Status:    domain.HistoryAlertAged,
		Detail: map[string]interface{}{
			"leg":         stuckLeg,
			"age_seconds": int64(age.Seconds()),
		},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return false, fmt.Errorf("aging alert append: %w", err)
	}

	r.ledger.publishToParties(domain.EventAlert, p, map[string]interface{}{
		"reason":      "pending_aged",
		"leg":         stuckLeg,
		"age_seconds": int64(age.Seconds()),
	})
	log.Printf("level=warn component=reconciler outcome=aging_alert payment_id=%s leg=%s age=%s", p.ID, stuckLeg, age.Truncate(time.Second))
	return true, nil
}
