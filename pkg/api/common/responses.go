package common

// DataResponse represents the standard success envelope. Every 2xx
// response body is {"data": ...}.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents the standard error envelope. The Error
// field carries a stable machine-readable code; Message is optional
// human-readable context.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Stable error codes surfaced to API clients.
const (
	CodeValidation                   = "validation_error"
	CodeUnauthorized                 = "unauthorized"
	CodeForbidden                    = "forbidden"
	CodeNotFound                     = "not_found"
	CodeUnknownAccount               = "unknown_account"
	CodeStateConflict                = "state_conflict"
	CodeInsufficientBalance          = "insufficient_balance"
	CodeInsufficientAvailableBalance = "insufficient_available_balance"
	CodeInsufficientSourceBalance    = "insufficient_source_balance"
	CodeOutOfBounds                  = "out_of_bounds"
	CodePlatformMismatch             = "platform_mismatch"
	CodePoolClosed                   = "pool_closed"
	CodeCardExpired                  = "card_expired"
	CodeCardExhausted                = "card_exhausted"
	CodeCardNotPurchased             = "card_not_purchased"
	CodeSessionNotActive             = "session_not_active"
	CodeSessionExhausted             = "session_exhausted"
	CodeInternal                     = "internal_error"
)
