package models

import (
	"time"
)

// Purchase lifecycle states
const (
	PurchaseStatusActive    = "active"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusRefunded  = "refunded"
)

// Listing is the buyer-facing view of an unsold active card
type Listing struct {
	CardID           string    `json:"card_id"`
	Platform         string    `json:"platform"`
	MaskedCardNumber string    `json:"masked_card_number"`
	Balance          float64   `json:"balance"`
	PricePerHour     float64   `json:"price_per_hour"`
	CurrentPrice     float64   `json:"current_price"`
	DemandMultiplier float64   `json:"demand_multiplier"`
	ExpiresAt        time.Time `json:"expires_at"`
	ListedAt         time.Time `json:"listed_at"`
}

// Purchase records a buyer acquiring timed access to a card
type Purchase struct {
	ID               string    `json:"id" db:"id"`
	BuyerID          string    `json:"buyer_id" db:"buyer_id"`
	SellerID         string    `json:"seller_id" db:"seller_id"`
	CardID           string    `json:"card_id" db:"card_id"`
	PurchasePrice    float64   `json:"purchase_price" db:"purchase_price"`
	DurationHours    int       `json:"duration_hours" db:"duration_hours"`
	RemainingBalance float64   `json:"remaining_balance" db:"remaining_balance"`
	Status           string    `json:"status" db:"status"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
