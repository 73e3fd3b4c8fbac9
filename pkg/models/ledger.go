package models

import (
	"time"
)

// Ledger entry reasons. Every balance mutation in the system is recorded
// as a transfer tagged with one of these.
const (
	LedgerReasonDeposit          = "deposit"
	LedgerReasonCardIssue        = "card_issue"
	LedgerReasonCardRevoke       = "card_revoke"
	LedgerReasonPoolContribution = "pool_contribution"
	LedgerReasonPoolRefund       = "pool_refund"
	LedgerReasonPurchase         = "purchase"
	LedgerReasonUsageCharge      = "usage_charge"
	LedgerReasonManualAdjust     = "manual_adjust"
)

// LedgerAccount holds the materialized balance for one account reference.
// Refs are namespaced strings: "user:<id>", "platform:<id>", "card:<id>",
// "pool:<id>", or a well-known sink like "sink:platform-costs".
type LedgerAccount struct {
	Ref       string    `json:"ref" db:"ref"`
	Balance   float64   `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry records one transfer between two accounts. Entries are
// append-only; a nil SourceRef marks an external deposit.
type LedgerEntry struct {
	ID        string    `json:"id" db:"id"`
	SourceRef *string   `json:"source_ref,omitempty" db:"source_ref"`
	DestRef   string    `json:"dest_ref" db:"dest_ref"`
	Amount    float64   `json:"amount" db:"amount"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
