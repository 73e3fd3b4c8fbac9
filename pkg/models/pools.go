package models

import (
	"time"
)

// Credit pool lifecycle states
const (
	PoolStatusOpen   = "open"
	PoolStatusClosed = "closed"
)

// Contribution review states
const (
	ContributionStatusPending  = "pending"
	ContributionStatusAccepted = "accepted"
	ContributionStatusRejected = "rejected"
)

// CreditPool aggregates credits from multiple contributors so cards can be
// issued against a shared balance instead of a single platform account.
type CreditPool struct {
	ID               string    `json:"id" db:"id"`
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	Platform         string    `json:"platform" db:"platform"`
	PoolName         string    `json:"pool_name" db:"pool_name"`
	MinContribution  float64   `json:"min_contribution" db:"min_contribution"`
	MaxContribution  float64   `json:"max_contribution" db:"max_contribution"`
	Status           string    `json:"status" db:"status"`
	IsPublic         bool      `json:"is_public" db:"is_public"`
	TotalContributed float64   `json:"total_contributed" db:"total_contributed"`
	TotalUsed        float64   `json:"total_used" db:"total_used"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// PoolContribution records a contributor's pledge into a pool
type PoolContribution struct {
	ID                string    `json:"id" db:"id"`
	PoolID            string    `json:"pool_id" db:"pool_id"`
	PlatformAccountID string    `json:"platform_account_id" db:"platform_account_id"`
	ContributorID     string    `json:"contributor_id" db:"contributor_id"`
	Amount            float64   `json:"amount" db:"amount"`
	Status            string    `json:"status" db:"status"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
