package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

const platformAccountColumns = `id, user_id, platform, email, encrypted_credentials,
	api_key, status, is_premium, subscription_type, total_credits, allow_pooling,
	created_at, updated_at`

func scanPlatformAccount(row interface{ Scan(...interface{}) error }) (*models.PlatformAccount, error) {
	var a models.PlatformAccount
	var subscriptionType *string
	err := row.Scan(&a.ID, &a.UserID, &a.Platform, &a.Email, &a.EncryptedCredentials,
		&a.APIKey, &a.Status, &a.IsPremium, &subscriptionType, &a.TotalCredits,
		&a.AllowPooling, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if subscriptionType != nil {
		a.SubscriptionType = *subscriptionType
	}
	return &a, nil
}

// ConnectPlatformAccount links an AI subscription credential to the caller
// and funds its ledger account with the declared credit balance.
func ConnectPlatformAccount(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.ConnectPlatformAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}
	if !models.IsSupportedPlatform(req.Platform) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:   common.CodeValidation,
			Message: "unsupported platform: " + req.Platform,
		})
		return
	}

	encrypted, err := fieldCrypt.Encrypt(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	apiKey := req.APIKey
	if apiKey != "" {
		if apiKey, err = fieldCrypt.Encrypt(apiKey); err != nil {
			respondError(c, err)
			return
		}
	}

	accountID := uuid.New().String()
	row := db.QueryRowContext(c.Request.Context(), `
		INSERT INTO platform_accounts (id, user_id, platform, email, encrypted_credentials, api_key, status, total_credits)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7)
		RETURNING `+platformAccountColumns,
		accountID, userID, req.Platform, req.Email, encrypted, apiKey, req.InitialCredits)
	account, err := scanPlatformAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, common.ErrorResponse{
				Error:   common.CodeStateConflict,
				Message: "platform account already connected",
			})
			return
		}
		respondError(c, err)
		return
	}

	ref := ledger.PlatformAccountRef(account.ID)
	if err := ledgerSvc.EnsureAccount(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}
	if req.InitialCredits > 0 {
		if err := ledgerSvc.Deposit(c.Request.Context(), ref, req.InitialCredits, models.LedgerReasonDeposit); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, common.DataResponse{Data: account})
}

// DisconnectPlatformAccount deactivates a linked account. Any remaining
// ledger balance is swept back to the owner's wallet first. Accounts
// with live cards cannot be disconnected. The row stays behind as
// 'inactive' because historical cards and contributions reference it.
func DisconnectPlatformAccount(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	accountID := c.Param("id")

	var ownerID string
	err := db.QueryRowContext(c.Request.Context(),
		`SELECT user_id FROM platform_accounts WHERE id = $1`, accountID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, common.ErrorResponse{Error: common.CodeNotFound, Message: "platform account not found"})
			return
		}
		respondError(c, err)
		return
	}
	if ownerID != userID {
		c.JSON(http.StatusForbidden, common.ErrorResponse{Error: common.CodeForbidden, Message: "platform account belongs to another user"})
		return
	}

	var liveCards int
	err = db.QueryRowContext(c.Request.Context(),
		`SELECT COUNT(*) FROM virtual_cards WHERE platform_account_id = $1 AND status = 'active'`,
		accountID).Scan(&liveCards)
	if err != nil {
		respondError(c, err)
		return
	}
	if liveCards > 0 {
		c.JSON(http.StatusConflict, common.ErrorResponse{
			Error:   common.CodeStateConflict,
			Message: "account still backs active cards",
		})
		return
	}

	ref := ledger.PlatformAccountRef(accountID)
	balance, err := ledgerSvc.BalanceOf(c.Request.Context(), ref)
	if err != nil && !errors.Is(err, ledger.ErrUnknownAccount) {
		respondError(c, err)
		return
	}
	if balance > 0 {
		if err := ledgerSvc.Transfer(c.Request.Context(), ref, ledger.UserRef(userID), balance, models.LedgerReasonManualAdjust); err != nil {
			respondError(c, err)
			return
		}
	}

	if _, err := db.ExecContext(c.Request.Context(),
		`UPDATE platform_accounts SET status = 'inactive', updated_at = NOW() WHERE id = $1`,
		accountID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: gin.H{
		"account_id":       accountID,
		"refunded_balance": balance,
	}})
}

// ListPlatformAccounts returns the caller's linked accounts
func ListPlatformAccounts(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	rows, err := db.QueryContext(c.Request.Context(),
		`SELECT `+platformAccountColumns+` FROM platform_accounts WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()

	accounts := []models.PlatformAccount{}
	for rows.Next() {
		account, err := scanPlatformAccount(rows)
		if err != nil {
			respondError(c, err)
			return
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PlatformAccountsResponse{
		Accounts:   accounts,
		TotalCount: len(accounts),
	}})
}
