/**
 * @description
 * Counterparty resolution for the settlement-service. A payment names its
 * receiver by payment address; this file turns that address into an account
 * row, creating a lightweight ADDRESS_ONLY account when the address has not
 * been seen before.
 *
 * Rules:
 * - A registry hit returns the existing account. If the caller supplied a
 *   display name and the stored one is empty, it is backfilled once.
 * - A miss creates an ADDRESS_ONLY account. The display name falls back to
 *   the address's local part when none was supplied.
 * - Concurrent first-time resolutions of the same address converge on a single
 *   winner via the registry's insert-or-read-winner semantics in the store.
 *
 * @dependencies
 * - internal/domain, internal/store: Account model and persistence.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
)

// ResolveCounterparty maps a payment address to an account, creating an
// ADDRESS_ONLY shell account on first sight of the address.
func (s *Service) ResolveCounterparty(ctx context.Context, address, displayName string) (*domain.Account, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, ErrInvalidAddress
	}
	displayName = strings.TrimSpace(displayName)

	account, err := s.repo.FindAccountByAddress(ctx, address)
	if err == nil {
		if displayName != "" && account.DisplayName == "" {
			if err := s.repo.UpdateAccountDisplayNameIfEmpty(ctx, account.ID, displayName); err != nil {
				log.Printf("level=warn component=resolver msg=\"display name backfill failed\" account_id=%s err=%v", account.ID, err)
			} else {
				account.DisplayName = displayName
			}
		}
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("address lookup: %w", err)
	}

	if displayName == "" {
		displayName = placeholderName(address)
	}
	candidate := &domain.Account{
		ID:          uuid.New(),
		Address:     address,
		DisplayName: displayName,
		Kind:        domain.AccountAddressOnly,
		CreatedAt:   time.Now().UTC(),
	}
	winner, created, err := s.repo.CreateAccountWithAddress(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create address-only account: %w", err)
	}
	if created {
		log.Printf("level=info component=resolver outcome=account_created account_id=%s address=%s", winner.ID, address)
	} else {
		log.Printf("level=info component=resolver outcome=race_lost_reused account_id=%s address=%s", winner.ID, address)
	}
	return winner, nil
}

// placeholderName derives a human-usable display name from the local part of
// a payment address, e.g. "ramesh.k@okbank" -> "ramesh.k".
func placeholderName(address string) string {
	if i := strings.IndexByte(address, '@'); i > 0 {
		return address[:i]
	}
	return address
}
