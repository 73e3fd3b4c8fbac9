package models

import (
	"time"
)

// Virtual card lifecycle states
const (
	CardStatusActive    = "active"
	CardStatusExhausted = "exhausted"
	CardStatusExpired   = "expired"
	CardStatusRevoked   = "revoked"
)

// VirtualCard is a prepaid access credential backed by platform credits.
// The card number and CVV are only exposed to the seller and, after a
// purchase, to the buyer; listing views use the masked form.
type VirtualCard struct {
	ID                string     `json:"id" db:"id"`
	CardNumber        string     `json:"-" db:"card_number"`
	CVV               string     `json:"-" db:"cvv"`
	SellerID          string     `json:"seller_id" db:"seller_id"`
	BuyerID           *string    `json:"buyer_id,omitempty" db:"buyer_id"`
	PlatformAccountID *string    `json:"platform_account_id,omitempty" db:"platform_account_id"`
	PoolID            *string    `json:"pool_id,omitempty" db:"pool_id"`
	Platform          string     `json:"platform" db:"platform"`
	InitialBalance    float64    `json:"initial_balance" db:"initial_balance"`
	PricePerHour      float64    `json:"price_per_hour" db:"price_per_hour"`
	BasePrice         float64    `json:"base_price" db:"base_price"`
	CurrentPrice      float64    `json:"current_price" db:"current_price"`
	DemandMultiplier  float64    `json:"demand_multiplier" db:"demand_multiplier"`
	Status            string     `json:"status" db:"status"`
	UsageCount        int        `json:"usage_count" db:"usage_count"`
	TotalCharged      float64    `json:"total_charged" db:"total_charged"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt         time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// MaskedNumber returns the card number with all but the last four digits hidden
func (c *VirtualCard) MaskedNumber() string {
	if len(c.CardNumber) < 4 {
		return "****"
	}
	return "**** **** **** " + c.CardNumber[len(c.CardNumber)-4:]
}

// CardCredentials is the full credential set handed to a buyer after purchase
type CardCredentials struct {
	CardID     string    `json:"card_id"`
	CardNumber string    `json:"card_number"`
	CVV        string    `json:"cvv"`
	Platform   string    `json:"platform"`
	Balance    float64   `json:"balance"`
	ExpiresAt  time.Time `json:"expires_at"`
}
