package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cjephuneh/subsplitAI-sub000/internal/cards"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
)

// CreateVirtualCard issues a card funded from one of the caller's
// platform accounts or pools. The raw card number and CVV are only
// returned here; list endpoints mask them.
func CreateVirtualCard(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.CreateVirtualCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}
	if (req.PlatformAccountID == "") == (req.PoolID == "") {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:   common.CodeValidation,
			Message: "exactly one of platform_account_id or pool_id is required",
		})
		return
	}

	card, err := cardIssuer.Issue(c.Request.Context(), userID, cards.IssueRequest{
		PlatformAccountID: req.PlatformAccountID,
		PoolID:            req.PoolID,
		InitialBalance:    req.InitialBalance,
		PricePerHour:      req.PricePerHour,
		ExpiryHours:       req.ExpiryHours,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.CardOperations, "issue", card.Platform)
	c.JSON(http.StatusCreated, common.DataResponse{Data: card})
}

// ListVirtualCards returns the cards the caller has issued, numbers masked
func ListVirtualCards(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	list, err := cardIssuer.ListBySeller(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range list {
		list[i].CardNumber = list[i].MaskedNumber()
		list[i].CVV = ""
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.VirtualCardsResponse{
		Cards:      list,
		TotalCount: len(list),
	}})
}

// ValidateVirtualCard checks card credentials without debiting. The check
// is credential-authenticated, so it needs no bearer token; failures are
// reported in the body rather than the status code.
func ValidateVirtualCard(c *gin.Context) {
	var req chandler.ValidateVirtualCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	result, err := cardIssuer.Validate(c.Request.Context(), req.CardNumber, req.CVV)
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.CardOperations, "validate", result.Platform)
	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.ValidateVirtualCardResponse{
		Valid:    result.Valid,
		Balance:  result.Balance,
		CardID:   result.CardID,
		Platform: result.Platform,
		Reason:   result.Reason,
	}})
}

// ChargeVirtualCard debits a card by its credentials. The card number
// in the path plus the CVV in the body are the authentication; like
// Validate, this endpoint carries no bearer token.
func ChargeVirtualCard(c *gin.Context) {
	cardNumber := c.Param("id")

	var req chandler.ChargeVirtualCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	result, err := cardIssuer.Charge(c.Request.Context(), cardNumber, req.CVV, req.Amount)
	if err != nil {
		if errors.Is(err, cards.ErrInsufficientCardBalance) {
			countOp(metrics.CardOperations, "charge_declined", "")
		}
		respondError(c, err)
		return
	}

	countOp(metrics.CardOperations, "charge", "")
	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.ChargeVirtualCardResponse{
		Success:          true,
		RemainingBalance: result.Remaining,
		TotalCharged:     result.TotalCharged,
	}})
}

// RevokeVirtualCard cancels an unsold card and refunds its balance to
// the funding source
func RevokeVirtualCard(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	cardID := c.Param("id")

	refunded, err := cardIssuer.Revoke(c.Request.Context(), userID, cardID)
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.CardOperations, "revoke", "")
	c.JSON(http.StatusOK, common.DataResponse{Data: gin.H{
		"card_id":          cardID,
		"refunded_balance": refunded,
	}})
}
