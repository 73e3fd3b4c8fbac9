package kafka

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent mirrors a double-entry transfer onto the event stream.
// Downstream consumers (analytics, reconciliation) replay these instead
// of polling the ledger tables.
type LedgerEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	FromRef       string    `json:"from_ref"`
	ToRef         string    `json:"to_ref"`
	Amount        float64   `json:"amount"`
	Reason        string    `json:"reason"`
	Reference     string    `json:"reference,omitempty"`
	SchemaVersion string    `json:"schema_version"`
}

// NewLedgerEvent builds a versioned event for one transfer
func NewLedgerEvent(fromRef, toRef string, amount float64, reason, reference string) *LedgerEvent {
	return &LedgerEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		FromRef:       fromRef,
		ToRef:         toRef,
		Amount:        amount,
		Reason:        reason,
		Reference:     reference,
		SchemaVersion: "1.0",
	}
}
