/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the settlement-service. The interface
 * decouples the ledger logic from the PostgreSQL implementation and lets tests
 * substitute in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account and address-registry methods
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByAddress(ctx context.Context, address string) (*domain.Account, error)
	// CreateAccountWithAddress atomically inserts the account and registers its
	// address. When a concurrent writer registered the address first, nothing is
	// inserted and the winner's account is returned with created=false.
	CreateAccountWithAddress(ctx context.Context, account *domain.Account) (winner *domain.Account, created bool, err error)
	UpdateAccountDisplayNameIfEmpty(ctx context.Context, accountID uuid.UUID, displayName string) error

	// Payment methods. Leg-status updates are conditional on the previous status
	// value so concurrent webhook and reconciliation writers cannot overwrite
	// each other with stale state; updated=false means the row no longer matched
	// the expected previous status.
	CreatePayment(ctx context.Context, p *domain.Payment) error
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindPaymentByCollectionProviderRef(ctx context.Context, ref string) (*domain.Payment, error)
	FindPaymentByPayoutProviderRef(ctx context.Context, ref string) (*domain.Payment, error)
	UpdateCollectionStatus(ctx context.Context, paymentID uuid.UUID, prev, next domain.CollectionStatus, refs *domain.ProviderRefs) (updated bool, err error)
	UpdatePayoutStatus(ctx context.Context, paymentID uuid.UUID, prev, next domain.PayoutStatus, providerRef *string) (updated bool, err error)
	// RecomputeOverallStatus derives the overall status from the row's stored
	// leg values atomically, never regressing a terminal overall, and returns
	// the resulting value.
	RecomputeOverallStatus(ctx context.Context, paymentID uuid.UUID) (domain.OverallStatus, error)
	SetCollectionProviderRef(ctx context.Context, paymentID uuid.UUID, providerRef, collectionLink string) error

	// History and audit methods
	AppendStatusHistory(ctx context.Context, entry *domain.StatusHistoryEntry) error
	HasStatusHistory(ctx context.Context, paymentID uuid.UUID, status string) (bool, error)
	UpsertWebhookAudit(ctx context.Context, leg domain.Leg, providerTxnID string, payload []byte) error

	// Query methods
	ListPaymentsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.HistoryOptions) ([]domain.Payment, error)
	ListUnsettledPayments(ctx context.Context, updatedSince time.Time, limit int) ([]domain.Payment, error)
}
