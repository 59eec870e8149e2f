/**
 * @description
 * This file defines the core domain models for the settlement-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (paise), which
 *   avoids floating-point inaccuracies with financial data.
 * - A settlement consists of two legs: a collection (payer -> platform pool account)
 *   and a payout (platform pool account -> payee). The payment-level status is derived
 *   from the two leg statuses and is never written independently.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountKind distinguishes fully registered users from placeholder accounts that
// were created lazily the first time an unknown payment address was referenced.
type AccountKind string

const (
	AccountRegistered  AccountKind = "REGISTERED"
	AccountAddressOnly AccountKind = "ADDRESS_ONLY"
)

// Account represents an internal party (sender or receiver of a settlement).
// This struct maps directly to the `accounts` table in the database.
type Account struct {
	ID          uuid.UUID   `json:"id"`
	Address     string      `json:"address"` // external payment address, e.g. "ravi@okhdfc"
	DisplayName string      `json:"display_name"`
	Kind        AccountKind `json:"kind"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Payment is the central ledger record for one settlement attempt.
// It maps directly to the `payments` table.
type Payment struct {
	ID                    uuid.UUID        `json:"id"`
	SenderAccountID       uuid.UUID        `json:"sender_account_id"`
	ReceiverAccountID     uuid.UUID        `json:"receiver_account_id"`
	Amount                int64            `json:"amount"` // in paise
	Currency              string           `json:"currency"`
	Purpose               string           `json:"purpose"`
	Category              *string          `json:"category,omitempty"`
	CollectionStatus      CollectionStatus `json:"collection_status"`
	PayoutStatus          PayoutStatus     `json:"payout_status"`
	OverallStatus         OverallStatus    `json:"overall_status"`
	CollectionProviderRef *string          `json:"collection_provider_ref,omitempty"`
	PayoutProviderRef     *string          `json:"payout_provider_ref,omitempty"`
	CollectionLink        *string          `json:"collection_link,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// StatusHistoryEntry is an immutable audit record appended on every ledger
// transition. It doubles as the idempotency ledger for webhook replay detection:
// webhook receipts are recorded with a unique DedupeKey against a placeholder
// payment id before any state change is applied.
type StatusHistoryEntry struct {
	ID        uuid.UUID              `json:"id"`
	PaymentID uuid.UUID              `json:"payment_id"`
	Status    string                 `json:"status"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Note      string                 `json:"note,omitempty"`
	DedupeKey *string                `json:"-"`
	CreatedAt time.Time              `json:"created_at"`
}

// History status labels that are not direct leg statuses.
const (
	HistoryCreated         = "CREATED"
	HistoryWebhookReceived = "WEBHOOK_RECEIVED"
	HistoryPayoutInitiated = "PAYOUT_INITIATED"
	HistoryAlertAged       = "ALERT_PENDING_AGED"
)

// CreatePaymentRequest is the DTO for the create-payment API endpoint.
type CreatePaymentRequest struct {
	ReceiverAddress string `json:"receiver_address"`
	ReceiverName    string `json:"receiver_name,omitempty"`
	Amount          int64  `json:"amount"` // in paise
	Purpose         string `json:"purpose"`
}

// ProviderRefs carries the provider-side identifiers reported alongside a
// leg-status update (webhook or reconciliation poll).
type ProviderRefs struct {
	TransactionID string `json:"transaction_id,omitempty"`
	UTR           string `json:"utr,omitempty"`
	RRN           string `json:"rrn,omitempty"`
}

// PaymentStatusView is the read-only projection served to polling clients.
type PaymentStatusView struct {
	PaymentID        uuid.UUID        `json:"payment_id"`
	CollectionStatus CollectionStatus `json:"collection_status"`
	PayoutStatus     PayoutStatus     `json:"payout_status"`
	OverallStatus    OverallStatus    `json:"overall_status"`
	Stage            string           `json:"stage"`
	CollectionLink   *string          `json:"collection_link,omitempty"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HistoryOptions controls pagination for a user's payment history.
type HistoryOptions struct {
	Limit  int
	Offset int
	From   *time.Time
	To     *time.Time
}

// ReconcileSummary reports the outcome of one reconciliation pass.
type ReconcileSummary struct {
	StartedAt          time.Time     `json:"started_at"`
	Scanned            int           `json:"scanned"`
	Advanced           int           `json:"advanced"`
	PayoutsRetriggered int           `json:"payouts_retriggered"`
	Alerts             int           `json:"alerts"`
	Errors             int           `json:"errors"`
	Duration           time.Duration `json:"-"`
}
