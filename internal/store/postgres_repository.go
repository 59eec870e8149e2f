/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to accounts, the address registry, payments, status history, and the
 * webhook audit log.
 *
 * Expected schema (applied out of band):
 *   accounts(id uuid pk, address text not null, display_name text, kind text,
 *            created_at timestamptz, updated_at timestamptz)
 *   address_registry(address text pk, account_id uuid not null)
 *   payments(id uuid pk, sender_account_id uuid, receiver_account_id uuid,
 *            amount bigint, currency text, purpose text, category text,
 *            collection_status text, payout_status text, overall_status text,
 *            collection_provider_ref text, payout_provider_ref text,
 *            collection_link text, created_at timestamptz, updated_at timestamptz)
 *   status_history(id uuid pk, payment_id uuid not null, status text, detail jsonb,
 *                  note text, dedupe_key text unique, created_at timestamptz)
 *     -- payment_id carries no FK: webhook receipts are recorded against the
 *     -- zero-UUID placeholder before the payment is resolved.
 *   webhook_audit(provider_txn_id text, leg text, payload jsonb,
 *                 received_at timestamptz, primary key (provider_txn_id, leg))
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrDuplicateDelivery  = errors.New("duplicate webhook delivery")
	ErrAddressUnavailable = errors.New("address registry entry not found")
)

const uniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = "id, btrim(address), coalesce(display_name, ''), kind, created_at, updated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Address, &a.DisplayName, &a.Kind, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAccountByID retrieves an account by its internal id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByAddress resolves an account through the address registry first and
// falls back to the account's own primary address column.
func (r *PostgresRepository) FindAccountByAddress(ctx context.Context, address string) (*domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = (SELECT account_id FROM address_registry WHERE lower(btrim(address)) = lower(btrim($1)))
	`
	account, err := scanAccount(r.db.QueryRow(ctx, query, address))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	query = `SELECT ` + accountColumns + ` FROM accounts WHERE lower(btrim(address)) = lower(btrim($1))`
	return scanAccount(r.db.QueryRow(ctx, query, address))
}

// CreateAccountWithAddress inserts the account and its registry row in one
// transaction. The registry insert uses ON CONFLICT DO NOTHING as the atomic
// insert-if-absent; when a concurrent writer won the race the transaction is
// rolled back and the winner's account is returned instead of erroring.
func (r *PostgresRepository) CreateAccountWithAddress(ctx context.Context, account *domain.Account) (*domain.Account, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	insertAccount := `
		INSERT INTO accounts (id, address, display_name, kind, created_at, updated_at)
		VALUES ($1, btrim($2), $3, $4, now(), now())
	`
	if _, err := tx.Exec(ctx, insertAccount, account.ID, account.Address, account.DisplayName, account.Kind); err != nil {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}

	insertRegistry := `
		INSERT INTO address_registry (address, account_id)
		VALUES (lower(btrim($1)), $2)
		ON CONFLICT (address) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertRegistry, account.Address, account.ID)
	if err != nil {
		return nil, false, fmt.Errorf("register address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the duplicate-account race; discard our insert and return the winner.
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			return nil, false, err
		}
		winner, err := r.FindAccountByAddress(ctx, account.Address)
		if err != nil {
			return nil, false, fmt.Errorf("re-read winning account: %w", err)
		}
		return winner, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return account, true, nil
}

// UpdateAccountDisplayNameIfEmpty backfills a display name only when the stored
// name is still the empty string.
func (r *PostgresRepository) UpdateAccountDisplayNameIfEmpty(ctx context.Context, accountID uuid.UUID, displayName string) error {
	query := `
		UPDATE accounts
		SET display_name = $2, updated_at = now()
		WHERE id = $1 AND coalesce(btrim(display_name), '') = ''
	`
	_, err := r.db.Exec(ctx, query, accountID, strings.TrimSpace(displayName))
	return err
}

const paymentColumns = `id, sender_account_id, receiver_account_id, amount, currency, purpose, category,
	collection_status, payout_status, overall_status,
	collection_provider_ref, payout_provider_ref, collection_link, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.SenderAccountID, &p.ReceiverAccountID, &p.Amount, &p.Currency, &p.Purpose, &p.Category,
		&p.CollectionStatus, &p.PayoutStatus, &p.OverallStatus,
		&p.CollectionProviderRef, &p.PayoutProviderRef, &p.CollectionLink, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a new payment row.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, sender_account_id, receiver_account_id, amount, currency, purpose, category,
			collection_status, payout_status, overall_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.SenderAccountID, p.ReceiverAccountID, p.Amount, p.Currency, p.Purpose, p.Category,
		p.CollectionStatus, p.PayoutStatus, p.OverallStatus,
	)
	return err
}

// FindPaymentByID retrieves a payment by its internal id.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, paymentID))
}

// FindPaymentByCollectionProviderRef resolves a payment from the provider's
// collection transaction id.
func (r *PostgresRepository) FindPaymentByCollectionProviderRef(ctx context.Context, ref string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE collection_provider_ref = $1`
	return scanPayment(r.db.QueryRow(ctx, query, ref))
}

// FindPaymentByPayoutProviderRef resolves a payment from the provider's payout
// transaction id.
func (r *PostgresRepository) FindPaymentByPayoutProviderRef(ctx context.Context, ref string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payout_provider_ref = $1`
	return scanPayment(r.db.QueryRow(ctx, query, ref))
}

// UpdateCollectionStatus advances the collection leg with a conditional update
// on the previous status value. updated=false means another writer moved the
// leg first and the caller's transition is stale.
func (r *PostgresRepository) UpdateCollectionStatus(ctx context.Context, paymentID uuid.UUID, prev, next domain.CollectionStatus, refs *domain.ProviderRefs) (bool, error) {
	query := `
		UPDATE payments
		SET collection_status = $3,
		    collection_provider_ref = coalesce(nullif($4, ''), collection_provider_ref),
		    updated_at = now()
		WHERE id = $1 AND collection_status = $2
	`
	providerRef := ""
	if refs != nil {
		providerRef = strings.TrimSpace(refs.TransactionID)
	}
	tag, err := r.db.Exec(ctx, query, paymentID, prev, next, providerRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdatePayoutStatus advances the payout leg with a conditional update on the
// previous status value. It is also used as the exactly-once latch for the
// auto-triggered payout (PENDING -> PROCESSING) and its revert on provider failure.
func (r *PostgresRepository) UpdatePayoutStatus(ctx context.Context, paymentID uuid.UUID, prev, next domain.PayoutStatus, providerRef *string) (bool, error) {
	query := `
		UPDATE payments
		SET payout_status = $3,
		    payout_provider_ref = coalesce($4, payout_provider_ref),
		    updated_at = now()
		WHERE id = $1 AND payout_status = $2
	`
	tag, err := r.db.Exec(ctx, query, paymentID, prev, next, providerRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecomputeOverallStatus derives the payment-level status from the row's own
// leg columns inside a single guarded UPDATE. Deriving from the stored legs
// rather than a caller-side snapshot keeps concurrent leg writers from racing
// the overall back to a stale value, and the terminal guard keeps SUCCESS and
// FAILED immutable.
func (r *PostgresRepository) RecomputeOverallStatus(ctx context.Context, paymentID uuid.UUID) (domain.OverallStatus, error) {
	query := `
		UPDATE payments
		SET overall_status = CASE
		        WHEN collection_status = 'COMPLETED' AND payout_status = 'COMPLETED' THEN 'SUCCESS'
		        WHEN collection_status = 'FAILED' OR payout_status = 'FAILED' THEN 'FAILED'
		        WHEN collection_status = 'COMPLETED' AND payout_status = 'PENDING' THEN 'PENDING'
		        WHEN collection_status = 'PROCESSING' THEN 'PENDING'
		        ELSE overall_status
		    END,
		    updated_at = now()
		WHERE id = $1 AND overall_status NOT IN ('SUCCESS', 'FAILED')
		RETURNING overall_status
	`
	var overall domain.OverallStatus
	err := r.db.QueryRow(ctx, query, paymentID).Scan(&overall)
	if err == pgx.ErrNoRows {
		// Terminal rows are excluded by the guard; read back what is stored.
		err = r.db.QueryRow(ctx, `SELECT overall_status FROM payments WHERE id = $1`, paymentID).Scan(&overall)
		if err == pgx.ErrNoRows {
			return "", ErrPaymentNotFound
		}
	}
	if err != nil {
		return "", err
	}
	return overall, nil
}

// SetCollectionProviderRef stores the provider transaction id and payment link
// returned by the collection-create call.
func (r *PostgresRepository) SetCollectionProviderRef(ctx context.Context, paymentID uuid.UUID, providerRef, collectionLink string) error {
	query := `
		UPDATE payments
		SET collection_provider_ref = $2, collection_link = nullif($3, ''), updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, paymentID, providerRef, collectionLink)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// AppendStatusHistory inserts an immutable audit row. When the entry carries a
// dedupe key and that key was already recorded, ErrDuplicateDelivery is
// returned so the caller can acknowledge the replay without reapplying it.
func (r *PostgresRepository) AppendStatusHistory(ctx context.Context, entry *domain.StatusHistoryEntry) error {
	var detail []byte
	if entry.Detail != nil {
		var err error
		detail, err = json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshal history detail: %w", err)
		}
	}

	query := `
		INSERT INTO status_history (id, payment_id, status, detail, note, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	_, err := r.db.Exec(ctx, query, entry.ID, entry.PaymentID, entry.Status, detail, entry.Note, entry.DedupeKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateDelivery
		}
		return err
	}
	return nil
}

// HasStatusHistory reports whether a history row with the given status label
// already exists for the payment. Used to guard at-most-once alerts.
func (r *PostgresRepository) HasStatusHistory(ctx context.Context, paymentID uuid.UUID, status string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM status_history WHERE payment_id = $1 AND status = $2)`
	if err := r.db.QueryRow(ctx, query, paymentID, status).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpsertWebhookAudit stores the raw callback payload for forensic replay, keyed
// by the provider's transaction id and leg. Redelivery overwrites in place.
func (r *PostgresRepository) UpsertWebhookAudit(ctx context.Context, leg domain.Leg, providerTxnID string, payload []byte) error {
	query := `
		INSERT INTO webhook_audit (provider_txn_id, leg, payload, received_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (provider_txn_id, leg) DO UPDATE
		SET payload = EXCLUDED.payload, received_at = now()
	`
	_, err := r.db.Exec(ctx, query, providerTxnID, leg, payload)
	return err
}

// ListPaymentsByAccount returns the account's payment history (as sender or
// receiver), newest first, with pagination and an optional date range.
func (r *PostgresRepository) ListPaymentsByAccount(ctx context.Context, accountID uuid.UUID, opts domain.HistoryOptions) ([]domain.Payment, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE (sender_account_id = $1 OR receiver_account_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.Query(ctx, query, accountID, opts.From, opts.To, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPayments(rows)
}

// ListUnsettledPayments returns payments updated within the trailing window
// whose overall status is non-terminal, oldest update first so the reconciler
// looks at the stalest payments before fresher ones.
func (r *PostgresRepository) ListUnsettledPayments(ctx context.Context, updatedSince time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE overall_status NOT IN ('SUCCESS', 'FAILED')
		  AND updated_at >= $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, updatedSince, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	payments := []domain.Payment{}
	for rows.Next() {
		var p domain.Payment
		err := rows.Scan(
			&p.ID, &p.SenderAccountID, &p.ReceiverAccountID, &p.Amount, &p.Currency, &p.Purpose, &p.Category,
			&p.CollectionStatus, &p.PayoutStatus, &p.OverallStatus,
			&p.CollectionProviderRef, &p.PayoutProviderRef, &p.CollectionLink, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
