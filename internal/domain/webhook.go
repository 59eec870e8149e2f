/**
 * @description
 * Wire types for incoming provider callbacks. The provider delivers both
 * collection and payout callbacks with the same loose shape; fields the
 * provider omits stay zero-valued and are treated as absent.
 */

package domain

// WebhookPayload is the decoded body of a provider callback.
type WebhookPayload struct {
	ReferenceID           string `json:"referenceId"`
	Status                string `json:"status"`
	TransactionID         string `json:"transactionId,omitempty"`
	UTR                   string `json:"utr,omitempty"`
	RRN                   string `json:"rrn,omitempty"`
	Amount                int64  `json:"amount,omitempty"`
	CallbackTransactionID string `json:"callbackTransactionId,omitempty"`
}

// WebhookAck is the body returned for every authenticated callback. The
// provider's retry behavior is not controllable, so business-logic non-matches
// are acknowledged rather than erroring.
type WebhookAck struct {
	OK        bool `json:"ok"`
	Matched   bool `json:"matched"`
	Duplicate bool `json:"duplicate,omitempty"`
}
