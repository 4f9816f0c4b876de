package event

import (
	"github.com/receipt-tracking/ingestion/constants"
)

// TimestampLayout is the wire format for event timestamps (UTC, seconds).
const TimestampLayout = "2006-01-02T15:04:05Z"

// StatusEvent describes one transition of a single pipeline invocation.
// Events are immutable once published; consumers only ever append them to a
// stream. OwnerID is null on the wire when the owner could not be derived
// from the object path.
type StatusEvent struct {
	Type      string           `json:"type"`
	Status    constants.Status `json:"status"`
	Message   string           `json:"message,omitempty"`
	ReceiptID string           `json:"receipt_id"`
	OwnerID   *string          `json:"user_uid"`
	Timestamp string           `json:"timestamp"`
}

// New builds a receipt_update event. The timestamp is left empty so the
// publisher stamps it at emission time.
func New(status constants.Status, receiptID string, ownerID *string, message string) StatusEvent {
	return StatusEvent{
		Type:      constants.EventTypeReceiptUpdate,
		Status:    status,
		Message:   message,
		ReceiptID: receiptID,
		OwnerID:   ownerID,
	}
}
