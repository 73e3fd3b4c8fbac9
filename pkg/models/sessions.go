package models

import (
	"time"
)

// Session lifecycle states
const (
	SessionStatusActive     = "active"
	SessionStatusExpired    = "expired"
	SessionStatusTerminated = "terminated"
	SessionStatusExhausted  = "exhausted"
)

// Request types recognized by the usage meter
const (
	RequestTypeChat       = "chat"
	RequestTypeCompletion = "completion"
	RequestTypeEmbedding  = "embedding"
)

// Session is a metered usage window a buyer opens against a purchased card
type Session struct {
	ID            string     `json:"id" db:"id"`
	BuyerID       string     `json:"buyer_id" db:"buyer_id"`
	CardID        string     `json:"card_id" db:"card_id"`
	PurchaseID    string     `json:"purchase_id" db:"purchase_id"`
	SessionToken  string     `json:"session_token" db:"session_token"`
	Platform      string     `json:"platform" db:"platform"`
	Status        string     `json:"status" db:"status"`
	TotalUsage    float64    `json:"total_usage" db:"total_usage"`
	RequestCount  int        `json:"request_count" db:"request_count"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty" db:"last_request_at"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	TerminatedAt  *time.Time `json:"terminated_at,omitempty" db:"terminated_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// UsageLog records one metered request inside a session
type UsageLog struct {
	ID             string    `json:"id" db:"id"`
	SessionID      string    `json:"session_id" db:"session_id"`
	CardID         string    `json:"card_id" db:"card_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	RequestType    string    `json:"request_type" db:"request_type"`
	Platform       string    `json:"platform" db:"platform"`
	RequestSize    int       `json:"request_size" db:"request_size"`
	ResponseSize   int       `json:"response_size" db:"response_size"`
	BaseCost       float64   `json:"base_cost" db:"base_cost"`
	ActualCost     float64   `json:"actual_cost" db:"actual_cost"`
	CostMultiplier float64   `json:"cost_multiplier" db:"cost_multiplier"`
	Success        bool      `json:"success" db:"success"`
	ErrorMessage   string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
