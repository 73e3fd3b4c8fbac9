package models

import (
	"time"
)

// User represents a marketplace account holder
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"` // Never serialize password material
	FirstName    string     `json:"first_name" db:"first_name"`
	LastName     string     `json:"last_name" db:"last_name"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	IsVerified   bool       `json:"is_verified" db:"is_verified"`
	IsPremium    bool       `json:"is_premium" db:"is_premium"`
	TotalEarned  float64    `json:"total_earned" db:"total_earned"`
	TotalSpent   float64    `json:"total_spent" db:"total_spent"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Platform account verification states
const (
	AccountStatusActive              = "active"
	AccountStatusInactive            = "inactive"
	AccountStatusSuspended           = "suspended"
	AccountStatusVerificationPending = "verification_pending"
)

// PlatformAccount is a linked subscription credential on an AI platform.
// Credentials are stored encrypted and never serialized back out.
type PlatformAccount struct {
	ID                   string    `json:"id" db:"id"`
	UserID               string    `json:"user_id" db:"user_id"`
	Platform             string    `json:"platform" db:"platform"`
	Email                string    `json:"email" db:"email"`
	EncryptedCredentials string    `json:"-" db:"encrypted_credentials"`
	APIKey               string    `json:"-" db:"api_key"`
	Status               string    `json:"status" db:"status"`
	IsPremium            bool      `json:"is_premium" db:"is_premium"`
	SubscriptionType     string    `json:"subscription_type,omitempty" db:"subscription_type"`
	TotalCredits         float64   `json:"total_credits" db:"total_credits"`
	AllowPooling         bool      `json:"allow_pooling" db:"allow_pooling"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Supported AI platforms
const (
	PlatformChatGPT = "chatgpt"
	PlatformClaude  = "claude"
	PlatformGemini  = "gemini"
)

// SupportedPlatforms lists the platforms accounts and cards may target
var SupportedPlatforms = []string{PlatformChatGPT, PlatformClaude, PlatformGemini}

// IsSupportedPlatform reports whether p is a known platform identifier
func IsSupportedPlatform(p string) bool {
	for _, s := range SupportedPlatforms {
		if p == s {
			return true
		}
	}
	return false
}
