package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

const userColumns = `id, email, username, password_hash, first_name, last_name,
	is_active, is_verified, is_premium, total_earned, total_spent,
	last_login, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName,
		&u.LastName, &u.IsActive, &u.IsVerified, &u.IsPremium, &u.TotalEarned,
		&u.TotalSpent, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func issueToken(user *models.User) (*chandler.AuthResponse, error) {
	expiresAt := time.Now().Add(auth.DefaultTokenTTL)
	token, err := auth.GenerateJWT(user.ID, user.Email, user.Username, auth.DefaultTokenTTL, jwtSecret)
	if err != nil {
		return nil, err
	}
	return &chandler.AuthResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		User:      *user,
	}, nil
}

// Register creates a user account and its wallet ledger account
func Register(c *gin.Context) {
	var req chandler.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	userID := uuid.New().String()
	row := db.QueryRowContext(c.Request.Context(), `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		userID, req.Email, req.Username, hash, req.FirstName, req.LastName)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, common.ErrorResponse{
				Error:   common.CodeStateConflict,
				Message: "email or username already registered",
			})
			return
		}
		respondError(c, err)
		return
	}

	if err := ledgerSvc.EnsureAccount(c.Request.Context(), ledger.UserRef(user.ID)); err != nil {
		respondError(c, err)
		return
	}

	resp, err := issueToken(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.DataResponse{Data: resp})
}

// Login authenticates with email and password
func Login(c *gin.Context) {
	var req chandler.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	row := db.QueryRowContext(c.Request.Context(),
		`SELECT `+userColumns+` FROM users WHERE email = $1`, req.Email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, common.ErrorResponse{Error: common.CodeUnauthorized, Message: "invalid credentials"})
			return
		}
		respondError(c, err)
		return
	}

	if !user.IsActive || !auth.CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, common.ErrorResponse{Error: common.CodeUnauthorized, Message: "invalid credentials"})
		return
	}

	now := time.Now()
	if _, err := db.ExecContext(c.Request.Context(),
		`UPDATE users SET last_login = $1, updated_at = $1 WHERE id = $2`, now, user.ID); err != nil {
		respondError(c, err)
		return
	}
	user.LastLogin = &now

	resp, err := issueToken(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.DataResponse{Data: resp})
}

// Me returns the authenticated user with their wallet balance
func Me(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	row := db.QueryRowContext(c.Request.Context(),
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, common.ErrorResponse{Error: common.CodeNotFound, Message: "user not found"})
			return
		}
		respondError(c, err)
		return
	}

	balance, err := ledgerSvc.BalanceOf(c.Request.Context(), ledger.UserRef(userID))
	if err != nil && !errors.Is(err, ledger.ErrUnknownAccount) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.MeResponse{User: *user, Balance: balance}})
}

// DepositWallet credits the caller's wallet
func DepositWallet(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	ref := ledger.UserRef(userID)
	if err := ledgerSvc.EnsureAccount(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}
	if err := ledgerSvc.Deposit(c.Request.Context(), ref, req.Amount, models.LedgerReasonDeposit); err != nil {
		respondError(c, err)
		return
	}

	balance, err := ledgerSvc.BalanceOf(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.WalletResponse{Balance: balance}})
}

// GetWallet returns the caller's balance and recent ledger entries
func GetWallet(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	ref := ledger.UserRef(userID)

	balance, err := ledgerSvc.BalanceOf(c.Request.Context(), ref)
	if err != nil && !errors.Is(err, ledger.ErrUnknownAccount) {
		respondError(c, err)
		return
	}

	entries, err := ledgerSvc.Entries(c.Request.Context(), ref, 50)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.WalletResponse{Balance: balance, Entries: entries}})
}
