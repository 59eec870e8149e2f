package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published on the fan-out bus. Every accepted ledger transition is
// published to both parties of the payment regardless of which one is viewing.
const (
	EventCreated          = "created"
	EventCollectionUpdate = "collection_update"
	EventPayoutUpdate     = "payout_update"
	EventStatusUpdate     = "status_update"
	EventAlert            = "alert"
)

// Event is one ledger transition addressed to a single user. Events are
// ephemeral: a client that is offline when an event fires only learns of the
// transition by polling the payment status.
type Event struct {
	Type      string                 `json:"type"`
	PaymentID uuid.UUID              `json:"payment_id"`
	UserID    uuid.UUID              `json:"user_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
