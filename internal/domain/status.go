/**
 * @description
 * Leg and payment status definitions plus the pure transition rules that govern
 * them. All mutation of a payment's status columns goes through these functions;
 * nothing else in the service decides whether a status may change.
 *
 * Key rules:
 * - Leg transitions are monotonic: a leg only moves forward in transition order,
 *   and terminal statuses (COMPLETED/FAILED) are never overwritten.
 * - The overall status is a pure function of the two leg statuses.
 * - Provider status vocabulary is normalized through an explicit mapping table
 *   with an "unknown" fallback; the service never guesses from substrings.
 */

package domain

import "strings"

// CollectionStatus is the state of the inbound leg (payer -> platform).
type CollectionStatus string

// PayoutStatus is the state of the outbound leg (platform -> payee).
type PayoutStatus string

// OverallStatus is the payment-level status derived from the two legs.
type OverallStatus string

const (
	CollectionInitiated  CollectionStatus = "INITIATED"
	CollectionProcessing CollectionStatus = "PROCESSING"
	CollectionCompleted  CollectionStatus = "COMPLETED"
	CollectionFailed     CollectionStatus = "FAILED"

	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"

	OverallCreated OverallStatus = "CREATED"
	OverallPending OverallStatus = "PENDING"
	OverallSuccess OverallStatus = "SUCCESS"
	OverallFailed  OverallStatus = "FAILED"
)

// Leg identifies which money movement a webhook or poll refers to.
type Leg string

const (
	LegCollection Leg = "collection"
	LegPayout     Leg = "payout"
)

var collectionRank = map[CollectionStatus]int{
	CollectionInitiated:  0,
	CollectionProcessing: 1,
	CollectionCompleted:  2,
	CollectionFailed:     2,
}

var payoutRank = map[PayoutStatus]int{
	PayoutPending:    0,
	PayoutProcessing: 1,
	PayoutCompleted:  2,
	PayoutFailed:     2,
}

// CollectionTransitionAllowed reports whether the collection leg may move from
// `current` to `next`. Terminal statuses never move; equal or earlier ranks are
// no-ops rather than errors.
func CollectionTransitionAllowed(current, next CollectionStatus) bool {
	curRank, ok := collectionRank[current]
	if !ok {
		return false
	}
	nextRank, ok := collectionRank[next]
	if !ok {
		return false
	}
	if current.Terminal() {
		return false
	}
	return nextRank > curRank
}

// PayoutTransitionAllowed is the payout-leg counterpart of CollectionTransitionAllowed.
func PayoutTransitionAllowed(current, next PayoutStatus) bool {
	curRank, ok := payoutRank[current]
	if !ok {
		return false
	}
	nextRank, ok := payoutRank[next]
	if !ok {
		return false
	}
	if current.Terminal() {
		return false
	}
	return nextRank > curRank
}

// Terminal reports whether the collection leg can no longer change.
func (s CollectionStatus) Terminal() bool {
	return s == CollectionCompleted || s == CollectionFailed
}

// Terminal reports whether the payout leg can no longer change.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutCompleted || s == PayoutFailed
}

// Terminal reports whether the payment as a whole has settled.
func (s OverallStatus) Terminal() bool {
	return s == OverallSuccess || s == OverallFailed
}

// DeriveOverall recomputes the payment-level status after a leg transition.
// `current` is returned unchanged when no row of the derivation table matches,
// so an overall status never regresses.
func DeriveOverall(current OverallStatus, collection CollectionStatus, payout PayoutStatus) OverallStatus {
	switch {
	case collection == CollectionCompleted && payout == PayoutCompleted:
		return OverallSuccess
	case collection == CollectionFailed || payout == PayoutFailed:
		return OverallFailed
	case collection == CollectionCompleted && payout == PayoutPending:
		return OverallPending
	case collection == CollectionProcessing:
		return OverallPending
	default:
		return current
	}
}

// Stage maps the two leg statuses onto the coarse label used by polling clients.
func Stage(collection CollectionStatus, payout PayoutStatus) string {
	switch {
	case collection == CollectionFailed:
		return "collection_failed"
	case collection == CollectionCompleted && payout == PayoutFailed:
		return "payout_failed"
	case collection == CollectionCompleted && payout == PayoutCompleted:
		return "completed"
	case collection == CollectionCompleted && payout == PayoutProcessing:
		return "payout_processing"
	case collection == CollectionCompleted:
		return "collection_success"
	default:
		return "collecting"
	}
}

// Provider vocabulary -> internal enum. The banking provider reports free-text
// statuses; anything outside this table maps to the leg's initial state so an
// unrecognized report can never move a leg forward.
var providerStatusWords = map[string]string{
	"success":    "completed",
	"successful": "completed",
	"completed":  "completed",
	"paid":       "completed",
	"settled":    "completed",
	"failed":     "failed",
	"failure":    "failed",
	"rejected":   "failed",
	"declined":   "failed",
	"expired":    "failed",
	"pending":    "processing",
	"processing": "processing",
	"initiated":  "processing",
	"in_process": "processing",
}

// NormalizeCollectionStatus maps a provider-reported status onto the collection enum.
func NormalizeCollectionStatus(raw string) CollectionStatus {
	switch providerStatusWords[strings.ToLower(strings.TrimSpace(raw))] {
	case "completed":
		return CollectionCompleted
	case "failed":
		return CollectionFailed
	case "processing":
		return CollectionProcessing
	default:
		return CollectionInitiated
	}
}

// NormalizePayoutStatus maps a provider-reported status onto the payout enum.
func NormalizePayoutStatus(raw string) PayoutStatus {
	switch providerStatusWords[strings.ToLower(strings.TrimSpace(raw))] {
	case "completed":
		return PayoutCompleted
	case "failed":
		return PayoutFailed
	case "processing":
		return PayoutProcessing
	default:
		return PayoutPending
	}
}
