/**
 * @description
 * This file contains the core ledger logic for the settlement-service. The
 * `Service` struct owns the two-leg settlement state machine: it creates
 * payments, applies leg transitions coming from webhooks and reconciliation,
 * derives the overall status, appends the audit history, and fans events out
 * to both parties of a payment.
 *
 * Key invariants enforced here:
 * - Leg statuses only move forward; stale or duplicate reports are no-ops.
 * - The overall status is recomputed after every accepted leg transition and
 *   is never written by anything else.
 * - The payout leg is auto-triggered exactly once when the collection leg
 *   completes; the PENDING -> PROCESSING conditional update is the latch.
 * - Provider failures during the auto-trigger are logged, never raised: the
 *   payout stays PENDING and is retried by reconciliation or the next status read.
 *
 * @dependencies
 * - context, errors, fmt, log, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/bankclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
	"github.com/boopathydreams/capnpay-settlement/pkg/bankclient"
	"github.com/boopathydreams/capnpay-settlement/pkg/rabbitmq"
)

var (
	ErrInvalidAmount       = errors.New("payment amount must be positive")
	ErrInvalidAddress      = errors.New("receiver address is required")
	ErrSenderNotFound      = errors.New("sender account not found")
	ErrProviderUnavailable = errors.New("banking provider unavailable")
)

// ProviderGateway is the narrow contract the ledger holds against the banking
// provider client. It is an interface so tests can count and fake provider calls.
type ProviderGateway interface {
	CreateCollection(ctx context.Context, req bankclient.CollectionRequest) (*bankclient.CollectionResponse, error)
	InitiatePayout(ctx context.Context, req bankclient.PayoutRequest) (*bankclient.PayoutResponse, error)
	GetStatus(ctx context.Context, providerTxnID, leg string) (*bankclient.StatusResponse, error)
}

// Options carries the tunables the ledger needs beyond its collaborators.
type Options struct {
	Currency                string
	CollectionExpiryMinutes int
	PayoutCallTimeout       time.Duration
	EventExchange           string
}

// Service provides the core business logic for settlements.
type Service struct {
	repo     store.Repository
	gateway  ProviderGateway
	bus      *EventBus
	producer rabbitmq.Publisher
	opts     Options

	// Per-payment mutexes serialize leg transitions for the same payment so a
	// webhook and a reconciliation poll cannot interleave. Entries are never
	// evicted; the map is bounded by the payments touched during process life.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, gateway ProviderGateway, bus *EventBus, producer rabbitmq.Publisher, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.CollectionExpiryMinutes <= 0 {
		opts.CollectionExpiryMinutes = 30
	}
	if opts.PayoutCallTimeout <= 0 {
		opts.PayoutCallTimeout = 10 * time.Second
	}
	if opts.EventExchange == "" {
		opts.EventExchange = "capnpay.events"
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		bus:      bus,
		producer: producer,
		opts:     opts,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Bus exposes the fan-out bus for the streaming API layer.
func (s *Service) Bus() *EventBus {
	return s.bus
}

func (s *Service) paymentLock(paymentID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[paymentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[paymentID] = mu
	}
	return mu
}

// CreatePayment resolves the receiver, inserts the payment in its initial
// state, requests a collection link from the provider, and notifies both
// parties. The collection reference id sent to the provider is the payment id.
func (s *Service) CreatePayment(ctx context.Context, senderID uuid.UUID, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.ReceiverAddress) == "" {
		return nil, ErrInvalidAddress
	}

	sender, err := s.repo.FindAccountByID(ctx, senderID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrSenderNotFound
		}
		return nil, fmt.Errorf("find sender: %w", err)
	}

	receiver, err := s.ResolveCounterparty(ctx, req.ReceiverAddress, req.ReceiverName)
	if err != nil {
		return nil, fmt.Errorf("resolve receiver: %w", err)
	}

	payment := &domain.Payment{
		ID:                uuid.New(),
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            req.Amount,
		Currency:          s.opts.Currency,
		Purpose:           strings.TrimSpace(req.Purpose),
		CollectionStatus:  domain.CollectionInitiated,
		PayoutStatus:      domain.PayoutPending,
		OverallStatus:     domain.OverallCreated,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	if err := s.appendHistory(ctx, payment.ID, domain.HistoryCreated, map[string]interface{}{
		"amount":   payment.Amount,
		"currency": payment.Currency,
		"receiver": receiver.Address,
	}, ""); err != nil {
		log.Printf("level=warn component=service op=create_payment msg=\"history append failed\" payment_id=%s err=%v", payment.ID, err)
	}

	collResp, err := s.gateway.CreateCollection(ctx, bankclient.CollectionRequest{
		ReferenceID:   payment.ID.String(),
		PayerAddress:  sender.Address,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Purpose:       payment.Purpose,
		ExpiryMinutes: s.opts.CollectionExpiryMinutes,
	})
	if err != nil {
		log.Printf("level=warn component=service op=create_payment msg=\"collection create failed\" payment_id=%s err=%v", payment.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err := s.repo.SetCollectionProviderRef(ctx, payment.ID, collResp.ProviderTxnID, collResp.Link); err != nil {
		log.Printf("level=error component=service op=create_payment msg=\"collection ref persistence failed\" payment_id=%s provider_txn_id=%s err=%v", payment.ID, collResp.ProviderTxnID, err)
	} else {
		payment.CollectionProviderRef = &collResp.ProviderTxnID
		if collResp.Link != "" {
			link := collResp.Link
			payment.CollectionLink = &link
		}
	}

	s.publishToParties(domain.EventCreated, payment, map[string]interface{}{
		"amount":   payment.Amount,
		"currency": payment.Currency,
		"overall":  payment.OverallStatus,
	})

	log.Printf("level=info component=service op=create_payment outcome=created payment_id=%s sender_id=%s receiver_id=%s amount=%d", payment.ID, sender.ID, receiver.ID, payment.Amount)
	return payment, nil
}

// ApplyCollectionStatus advances the collection leg. Stale or backward
// transitions are silently ignored (logged only); on transition to COMPLETED
// with the payout still PENDING the payout leg is auto-triggered.
func (s *Service) ApplyCollectionStatus(ctx context.Context, paymentID uuid.UUID, next domain.CollectionStatus, refs *domain.ProviderRefs) error {
	mu := s.paymentLock(paymentID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if !domain.CollectionTransitionAllowed(p.CollectionStatus, next) {
		log.Printf("level=info component=service op=apply_collection outcome=noop payment_id=%s current=%s reported=%s", p.ID, p.CollectionStatus, next)
		return nil
	}

	updated, err := s.repo.UpdateCollectionStatus(ctx, p.ID, p.CollectionStatus, next, refs)
	if err != nil {
		return fmt.Errorf("update collection status: %w", err)
	}
	if !updated {
		log.Printf("level=info component=service op=apply_collection outcome=lost_race payment_id=%s reported=%s", p.ID, next)
		return nil
	}

	if err := s.appendHistory(ctx, p.ID, "COLLECTION_"+string(next), refsDetail(refs), ""); err != nil {
		log.Printf("level=warn component=service op=apply_collection msg=\"history append failed\" payment_id=%s err=%v", p.ID, err)
	}

	prevOverall := p.OverallStatus
	p.CollectionStatus = next
	s.recomputeOverall(ctx, p, prevOverall)

	s.publishToParties(domain.EventCollectionUpdate, p, map[string]interface{}{
		"status":  next,
		"overall": p.OverallStatus,
	})

	if next == domain.CollectionCompleted && p.PayoutStatus == domain.PayoutPending {
		s.triggerPayout(ctx, p)
	}
	return nil
}

// ApplyPayoutStatus advances the payout leg; symmetric to ApplyCollectionStatus
// but with no cross-leg side effect.
func (s *Service) ApplyPayoutStatus(ctx context.Context, paymentID uuid.UUID, next domain.PayoutStatus, refs *domain.ProviderRefs) error {
	mu := s.paymentLock(paymentID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}

	if !domain.PayoutTransitionAllowed(p.PayoutStatus, next) {
		log.Printf("level=info component=service op=apply_payout outcome=noop payment_id=%s current=%s reported=%s", p.ID, p.PayoutStatus, next)
		return nil
	}

	var providerRef *string
	if refs != nil && strings.TrimSpace(refs.TransactionID) != "" {
		ref := strings.TrimSpace(refs.TransactionID)
		providerRef = &ref
	}
	updated, err := s.repo.UpdatePayoutStatus(ctx, p.ID, p.PayoutStatus, next, providerRef)
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}
	if !updated {
		log.Printf("level=info component=service op=apply_payout outcome=lost_race payment_id=%s reported=%s", p.ID, next)
		return nil
	}

	if err := s.appendHistory(ctx, p.ID, "PAYOUT_"+string(next), refsDetail(refs), ""); err != nil {
		log.Printf("level=warn component=service op=apply_payout msg=\"history append failed\" payment_id=%s err=%v", p.ID, err)
	}

	prevOverall := p.OverallStatus
	p.PayoutStatus = next
	s.recomputeOverall(ctx, p, prevOverall)

	s.publishToParties(domain.EventPayoutUpdate, p, map[string]interface{}{
		"status":  next,
		"overall": p.OverallStatus,
	})
	return nil
}

// GetCompleteStatus returns the two-leg projection served to polling clients.
// As a side effect, a payout left PENDING after collection completion is
// (idempotently) triggered at read time, guarding against a lost async trigger.
func (s *Service) GetCompleteStatus(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentStatusView, error) {
	p, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.CollectionStatus == domain.CollectionCompleted && p.PayoutStatus == domain.PayoutPending {
		s.EnsurePayout(ctx, paymentID)
		if refreshed, err := s.repo.FindPaymentByID(ctx, paymentID); err == nil {
			p = refreshed
		}
	}

	return &domain.PaymentStatusView{
		PaymentID:        p.ID,
		CollectionStatus: p.CollectionStatus,
		PayoutStatus:     p.PayoutStatus,
		OverallStatus:    p.OverallStatus,
		Stage:            domain.Stage(p.CollectionStatus, p.PayoutStatus),
		CollectionLink:   p.CollectionLink,
		Amount:           p.Amount,
		Currency:         p.Currency,
		UpdatedAt:        p.UpdatedAt,
	}, nil
}

// GetUserPaymentHistory returns the account's payments, newest first.
func (s *Service) GetUserPaymentHistory(ctx context.Context, accountID uuid.UUID, opts domain.HistoryOptions) ([]domain.Payment, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.repo.ListPaymentsByAccount(ctx, accountID, opts)
}

// EnsurePayout re-checks the cross-leg trigger under the payment lock. Called
// by GetCompleteStatus and by the reconciliation loop to retry a payout that
// stayed PENDING after a provider failure.
func (s *Service) EnsurePayout(ctx context.Context, paymentID uuid.UUID) {
	mu := s.paymentLock(paymentID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		log.Printf("level=warn component=service op=ensure_payout msg=\"payment lookup failed\" payment_id=%s err=%v", paymentID, err)
		return
	}
	if p.CollectionStatus == domain.CollectionCompleted && p.PayoutStatus == domain.PayoutPending {
		s.triggerPayout(ctx, p)
	}
}

// triggerPayout issues the payout request for a payment whose collection leg
// has completed. Callers must hold the payment lock. The conditional
// PENDING -> PROCESSING update is the exactly-once latch; the payout reference
// id is derived from the payment id so retries reuse the provider-side
// idempotency key. Provider errors revert the latch and are logged, not raised.
func (s *Service) triggerPayout(ctx context.Context, p *domain.Payment) {
	claimed, err := s.repo.UpdatePayoutStatus(ctx, p.ID, domain.PayoutPending, domain.PayoutProcessing, nil)
	if err != nil {
		log.Printf("level=error component=service op=trigger_payout msg=\"latch claim failed\" payment_id=%s err=%v", p.ID, err)
		return
	}
	if !claimed {
		log.Printf("level=info component=service op=trigger_payout outcome=already_claimed payment_id=%s", p.ID)
		return
	}

	receiver, err := s.repo.FindAccountByID(ctx, p.ReceiverAccountID)
	if err != nil {
		s.revertPayoutLatch(ctx, p.ID)
		log.Printf("level=error component=service op=trigger_payout msg=\"receiver lookup failed\" payment_id=%s err=%v", p.ID, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.PayoutCallTimeout)
	defer cancel()

	resp, err := s.gateway.InitiatePayout(callCtx, bankclient.PayoutRequest{
		ReferenceID:        payoutReferenceID(p.ID),
		Amount:             p.Amount,
		Currency:           p.Currency,
		BeneficiaryAddress: receiver.Address,
	})
	if err != nil {
		s.revertPayoutLatch(ctx, p.ID)
		if err := s.appendHistory(ctx, p.ID, "PAYOUT_RETRY_SCHEDULED", nil, fmt.Sprintf("payout initiation failed: %v", err)); err != nil {
			log.Printf("level=warn component=service op=trigger_payout msg=\"history append failed\" payment_id=%s err=%v", p.ID, err)
		}
		log.Printf("level=warn component=service op=trigger_payout outcome=deferred payment_id=%s msg=\"provider unavailable; payout left pending for reconciliation\" err=%v", p.ID, err)
		return
	}

	providerRef := strings.TrimSpace(resp.ProviderTxnID)
	if providerRef != "" {
		if _, err := s.repo.UpdatePayoutStatus(ctx, p.ID, domain.PayoutProcessing, domain.PayoutProcessing, &providerRef); err != nil {
			log.Printf("level=error component=service op=trigger_payout msg=\"payout ref persistence failed\" payment_id=%s provider_txn_id=%s err=%v", p.ID, providerRef, err)
		}
	}
	p.PayoutStatus = domain.PayoutProcessing
	if providerRef != "" {
		p.PayoutProviderRef = &providerRef
	}

	if err := s.appendHistory(ctx, p.ID, domain.HistoryPayoutInitiated, map[string]interface{}{
		"provider_txn_id": providerRef,
	}, ""); err != nil {
		log.Printf("level=warn component=service op=trigger_payout msg=\"history append failed\" payment_id=%s err=%v", p.ID, err)
	}

	s.publishToParties(domain.EventPayoutUpdate, p, map[string]interface{}{
		"status":  domain.PayoutProcessing,
		"overall": p.OverallStatus,
	})
	log.Printf("level=info component=service op=trigger_payout outcome=initiated payment_id=%s provider_txn_id=%s", p.ID, providerRef)
}

func (s *Service) revertPayoutLatch(ctx context.Context, paymentID uuid.UUID) {
	if _, err := s.repo.UpdatePayoutStatus(ctx, paymentID, domain.PayoutProcessing, domain.PayoutPending, nil); err != nil {
		log.Printf("level=error component=service op=trigger_payout msg=\"latch revert failed\" payment_id=%s err=%v", paymentID, err)
	}
}

// recomputeOverall re-derives the payment-level status after an accepted leg
// transition, publishing a status_update when it changed. The store derives
// from the row's stored leg values rather than this writer's snapshot, so a
// concurrent leg update on the other leg cannot be clobbered with stale state.
func (s *Service) recomputeOverall(ctx context.Context, p *domain.Payment, prevOverall domain.OverallStatus) {
	next, err := s.repo.RecomputeOverallStatus(ctx, p.ID)
	if err != nil {
		log.Printf("level=error component=service op=recompute_overall msg=\"overall status persistence failed\" payment_id=%s err=%v", p.ID, err)
		p.OverallStatus = prevOverall
		return
	}
	p.OverallStatus = next
	if next == prevOverall {
		return
	}
	s.publishToParties(domain.EventStatusUpdate, p, map[string]interface{}{
		"overall": next,
	})
}

// publishToParties delivers one event each to the sender and receiver, and
// mirrors each event to the AMQP exchange when a producer is configured.
func (s *Service) publishToParties(eventType string, p *domain.Payment, payload map[string]interface{}) {
	for _, userID := range []uuid.UUID{p.SenderAccountID, p.ReceiverAccountID} {
		event := domain.Event{
			Type:      eventType,
			PaymentID: p.ID,
			UserID:    userID,
			Payload:   payload,
			Timestamp: time.Now().UTC(),
		}
		if s.bus != nil {
			s.bus.Publish(event)
		}
		if s.producer != nil {
			if err := s.producer.Publish(context.Background(), s.opts.EventExchange, "payment."+eventType, event); err != nil {
				log.Printf("level=warn component=service msg=\"event mirror publish failed\" event=%s payment_id=%s err=%v", eventType, p.ID, err)
			}
		}
	}
}

func (s *Service) appendHistory(ctx context.Context, paymentID uuid.UUID, status string, detail map[string]interface{}, note string) error {
	return s.repo.AppendStatusHistory(ctx, &domain.StatusHistoryEntry{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Status:    status,
		Detail:    detail,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
}

func refsDetail(refs *domain.ProviderRefs) map[string]interface{} {
	if refs == nil {
		return nil
	}
	detail := map[string]interface{}{}
	if refs.TransactionID != "" {
		detail["transaction_id"] = refs.TransactionID
	}
	if refs.UTR != "" {
		detail["utr"] = refs.UTR
	}
	if refs.RRN != "" {
		detail["rrn"] = refs.RRN
	}
	if len(detail) == 0 {
		return nil
	}
	return detail
}

// payoutReferenceID derives the stable provider-facing reference for a
// payment's payout leg. Keeping it a pure function of the payment id is what
// makes payout retries idempotent on the provider side.
func payoutReferenceID(paymentID uuid.UUID) string {
	return "po-" + paymentID.String()
}
