package chandler

import (
	"time"

	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// ErrorResponse is a type alias to the common error envelope
type ErrorResponse = common.ErrorResponse

// Auth

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Username  string `json:"username" binding:"required,min=3,max=50"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries a bearer token and the authenticated user
type AuthResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// MeResponse is the current user plus ledger-derived balances
type MeResponse struct {
	User    models.User `json:"user"`
	Balance float64     `json:"balance"`
}

// Wallet

// DepositRequest credits the caller's wallet
type DepositRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// WalletResponse is the caller's wallet balance plus recent ledger activity
type WalletResponse struct {
	Balance float64              `json:"balance"`
	Entries []models.LedgerEntry `json:"entries"`
}

// Platform accounts

// ConnectPlatformAccountRequest links a subscription credential
type ConnectPlatformAccountRequest struct {
	Platform       string  `json:"platform" binding:"required"`
	Email          string  `json:"email" binding:"required,email"`
	Password       string  `json:"password" binding:"required"`
	APIKey         string  `json:"api_key"`
	InitialCredits float64 `json:"initial_credits" binding:"gte=0"`
}

// PlatformAccountsResponse lists the caller's linked accounts
type PlatformAccountsResponse struct {
	Accounts   []models.PlatformAccount `json:"accounts"`
	TotalCount int                      `json:"total_count"`
}

// Virtual cards

// CreateVirtualCardRequest issues a card from a platform account or
// pool. ExpiryHours distinguishes omitted (default expiry) from an
// explicit value, including zero.
type CreateVirtualCardRequest struct {
	PlatformAccountID string  `json:"platform_account_id"`
	PoolID            string  `json:"pool_id"`
	InitialBalance    float64 `json:"initial_balance" binding:"required,gt=0"`
	PricePerHour      float64 `json:"price_per_hour" binding:"required,gt=0"`
	ExpiryHours       *int    `json:"expiry_hours" binding:"omitempty,gte=0"`
}

// ValidateVirtualCardRequest checks card credentials
type ValidateVirtualCardRequest struct {
	CardNumber string `json:"card_number" binding:"required"`
	CVV        string `json:"cvv" binding:"required"`
}

// ValidateVirtualCardResponse is a soft-fail validation result
type ValidateVirtualCardResponse struct {
	Valid    bool    `json:"valid"`
	Balance  float64 `json:"balance,omitempty"`
	CardID   string  `json:"card_id,omitempty"`
	Platform string  `json:"platform,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// ChargeVirtualCardRequest debits a card. The CVV authenticates the
// charge; there is no bearer token on this endpoint.
type ChargeVirtualCardRequest struct {
	CVV    string  `json:"cvv" binding:"required"`
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// ChargeVirtualCardResponse reports the post-charge balance
type ChargeVirtualCardResponse struct {
	Success          bool    `json:"success"`
	RemainingBalance float64 `json:"remaining_balance"`
	TotalCharged     float64 `json:"total_charged"`
}

// VirtualCardsResponse lists the caller's cards
type VirtualCardsResponse struct {
	Cards      []models.VirtualCard `json:"cards"`
	TotalCount int                  `json:"total_count"`
}

// Credit pools

// CreatePoolRequest creates a credit pool
type CreatePoolRequest struct {
	Platform        string  `json:"platform" binding:"required"`
	PoolName        string  `json:"pool_name" binding:"required"`
	MinContribution float64 `json:"min_contribution"`
	MaxContribution float64 `json:"max_contribution"`
	IsPublic        bool    `json:"is_public"`
}

// ContributeRequest pledges credits into a pool
type ContributeRequest struct {
	PoolID            string  `json:"pool_id" binding:"required"`
	PlatformAccountID string  `json:"platform_account_id" binding:"required"`
	Amount            float64 `json:"amount" binding:"required,gt=0"`
}

// PoolsResponse lists pools
type PoolsResponse struct {
	Pools      []models.CreditPool `json:"pools"`
	TotalCount int                 `json:"total_count"`
}

// PoolStatsResponse carries derived pool statistics
type PoolStatsResponse struct {
	Pool                  models.CreditPool `json:"pool"`
	AvailableBalance      float64           `json:"available_balance"`
	UtilizationPercentage float64           `json:"utilization_percentage"`
	ContributionCount     int               `json:"contribution_count"`
}

// Marketplace

// PurchaseRequest buys access to a listed card
type PurchaseRequest struct {
	CardID        string `json:"card_id" binding:"required"`
	DurationHours int    `json:"duration_hours" binding:"required,gt=0"`
}

// PurchaseResponse reports the completed transaction plus the card
// credentials the buyer can now redeem
type PurchaseResponse struct {
	Purchase    models.Purchase        `json:"purchase"`
	CardDetails models.CardCredentials `json:"card_details"`
}

// ListingsResponse is a page of marketplace listings
type ListingsResponse struct {
	Listings   []models.Listing `json:"listings"`
	TotalCount int              `json:"total_count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
}

// PurchasesResponse is the caller's purchase history
type PurchasesResponse struct {
	Purchases  []models.Purchase `json:"purchases"`
	TotalCount int               `json:"total_count"`
}

// PlatformSummary aggregates listing counts per platform
type PlatformSummary struct {
	Platform       string  `json:"platform"`
	ActiveListings int     `json:"active_listings"`
	MinPrice       float64 `json:"min_price"`
}

// PlatformsResponse lists platforms with active listings
type PlatformsResponse struct {
	Platforms  []PlatformSummary `json:"platforms"`
	TotalCount int               `json:"total_count"`
}

// Sessions

// CreateSessionRequest opens a metered session against a purchased card
type CreateSessionRequest struct {
	CardID string `json:"card_id" binding:"required"`
}

// SessionRequestPayload is a metered request executed inside a session
type SessionRequestPayload struct {
	Message     string `json:"message" binding:"required"`
	RequestType string `json:"request_type"`
}

// SessionRequestResponse is the metered-call result
type SessionRequestResponse struct {
	Response       string  `json:"response"`
	Cost           float64 `json:"cost"`
	RequestCount   int     `json:"request_count"`
	TotalUsage     float64 `json:"total_usage"`
	RemainingFunds float64 `json:"remaining_funds"`
}

// SessionsResponse lists the caller's sessions
type SessionsResponse struct {
	Sessions   []models.Session `json:"sessions"`
	TotalCount int              `json:"total_count"`
}

// Pricing

// DemandResponse carries the live demand multiplier for a platform
type DemandResponse struct {
	Platform         string  `json:"platform"`
	Region           string  `json:"region"`
	WindowHours      int     `json:"window_hours"`
	DemandMultiplier float64 `json:"demand_multiplier"`
}

// TrendsResponse carries pricing trend analysis for a platform
type TrendsResponse struct {
	Platform              string  `json:"platform"`
	Days                  int     `json:"days"`
	AveragePrice          float64 `json:"average_price"`
	AverageBasePrice      float64 `json:"average_base_price"`
	PriceTrend            string  `json:"price_trend"`
	DemandLevel           string  `json:"demand_level"`
	RecommendedMultiplier float64 `json:"recommended_multiplier"`
	SampleSize            int     `json:"sample_size"`
}

// MarketOverviewResponse aggregates trends across platforms
type MarketOverviewResponse struct {
	MarketData map[string]TrendsResponse `json:"market_data"`
	Summary    MarketSummary             `json:"summary"`
}

// MarketSummary is the roll-up section of the market overview
type MarketSummary struct {
	TotalPlatforms  int `json:"total_platforms"`
	ActivePlatforms int `json:"active_platforms"`
}
