/**
 * @description
 * Webhook ingestion for the settlement-service. The banking provider reports
 * leg progress by POSTing status callbacks; this file resolves each callback
 * to a payment, guards against redelivery, records the raw payload for audit,
 * and hands the normalized status to the ledger.
 *
 * Processing order matters:
 * 1. Redelivery guard: the callback transaction id is recorded as a history
 *    row with a unique dedupe key. A second delivery hits the unique index and
 *    is acknowledged without touching the payment again.
 * 2. Audit: the raw payload is upserted per (provider txn id, leg).
 * 3. Resolution: the reference id is the payment id (payouts carry the "po-"
 *    prefix); when absent or unparsable, the provider transaction id is tried.
 *    Unresolvable callbacks are acknowledged as unmatched, never errored.
 * 4. Apply: the provider's status word is normalized and applied through the
 *    ledger, which enforces monotonicity.
 *
 * @dependencies
 * - internal/domain, internal/store: Payload model, dedupe sentinel, persistence.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
)

// Ingestor turns provider webhook payloads into ledger transitions.
type Ingestor struct {
	repo   store.Repository
	ledger *Service
}

// NewIngestor creates a webhook ingestor bound to the ledger.
func NewIngestor(repo store.Repository, ledger *Service) *Ingestor {
	return &Ingestor{repo: repo, ledger: ledger}
}

// IngestCollection processes a collection-leg webhook.
func (in *Ingestor) IngestCollection(ctx context.Context, payload domain.WebhookPayload) (*domain.WebhookAck, error) {
	return in.ingest(ctx, domain.LegCollection, payload)
}

// IngestPayout processes a payout-leg webhook.
func (in *Ingestor) IngestPayout(ctx context.Context, payload domain.WebhookPayload) (*domain.WebhookAck, error) {
	return in.ingest(ctx, domain.LegPayout, payload)
}

func (in *Ingestor) ingest(ctx context.Context, leg domain.Leg, payload domain.WebhookPayload) (*domain.WebhookAck, error) {
	payment, resolveErr := in.resolvePayment(ctx, leg, payload)
	if resolveErr != nil && !errors.Is(resolveErr, store.ErrPaymentNotFound) {
		return nil, resolveErr
	}

	paymentID := uuid.Nil
	if payment != nil {
		paymentID = payment.ID
	}

	if key := strings.TrimSpace(payload.CallbackTransactionID); key != "" {
		dedupe := string(leg) + ":" + key
		err := in.repo.AppendStatusHistory(ctx, &domain.StatusHistoryEntry{
			ID:        uuid.New(),
			PaymentID: paymentID,
			Status:    domain.HistoryWebhookReceived,
			Detail: map[string]interface{}{
				"leg":             leg,
				"provider_status": payload.Status,
				"provider_txn_id": payload.TransactionID,
			},
			DedupeKey: &dedupe,
		})
		if errors.Is(err, store.ErrDuplicateDelivery) {
			log.Printf("level=info component=ingestor leg=%s outcome=duplicate callback_txn_id=%s", leg, key)
			return &domain.WebhookAck{OK: true, Matched: payment != nil, Duplicate: true}, nil
		}
		if err != nil {
			return nil, err
		}
	}

	if txnID := strings.TrimSpace(payload.TransactionID); txnID != "" {
		raw, _ := json.Marshal(payload)
		if err := in.repo.UpsertWebhookAudit(ctx, leg, txnID, raw); err != nil {
			log.Printf("level=warn component=ingestor leg=%s msg=\"audit upsert failed\" provider_txn_id=%s err=%v", leg, txnID, err)
		}
	}

	if payment == nil {
		log.Printf("level=warn component=ingestor leg=%s outcome=unmatched reference_id=%q provider_txn_id=%q", leg, payload.ReferenceID, payload.TransactionID)
		return &domain.WebhookAck{OK: true, Matched: false}, nil
	}

	refs := &domain.ProviderRefs{
		TransactionID: strings.TrimSpace(payload.TransactionID),
		UTR:           strings.TrimSpace(payload.UTR),
		RRN:           strings.TrimSpace(payload.RRN),
	}

	switch leg {
	case domain.LegCollection:
		next := domain.NormalizeCollectionStatus(payload.Status)
		if err := in.ledger.ApplyCollectionStatus(ctx, payment.ID, next, refs); err != nil {
			return nil, err
		}
	case domain.LegPayout:
		next := domain.NormalizePayoutStatus(payload.Status)
		if err := in.ledger.ApplyPayoutStatus(ctx, payment.ID, next, refs); err != nil {
			return nil, err
		}
	}

	return &domain.WebhookAck{OK: true, Matched: true}, nil
}

// resolvePayment maps a webhook to its payment. The primary key is the
// reference id we generated at creation time; the provider transaction id is
// the fallback for callbacks that omit it.
func (in *Ingestor) resolvePayment(ctx context.Context, leg domain.Leg, payload domain.WebhookPayload) (*domain.Payment, error) {
	refID := strings.TrimSpace(payload.ReferenceID)
	if leg == domain.LegPayout {
		refID = strings.TrimPrefix(refID, "po-")
	}
	if refID != "" {
		if paymentID, err := uuid.Parse(refID); err == nil {
			p, err := in.repo.FindPaymentByID(ctx, paymentID)
			if err == nil {
				return p, nil
			}
			if !errors.Is(err, store.ErrPaymentNotFound) {
				return nil, err
			}
		}
	}

	txnID := strings.TrimSpace(payload.TransactionID)
	if txnID == "" {
		return nil, store.ErrPaymentNotFound
	}
	if leg == domain.LegPayout {
		return in.repo.FindPaymentByPayoutProviderRef(ctx, txnID)
	}
	return in.repo.FindPaymentByCollectionProviderRef(ctx, txnID)
}
