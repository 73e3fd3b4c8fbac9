package handlers

import (
	"errors"
	"net/http"

	"github.com/cjephuneh/subsplitAI-sub000/internal/cards"
	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/market"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pools"
	"github.com/cjephuneh/subsplitAI-sub000/internal/sessions"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// respondError maps component errors onto the wire envelope. Unmapped
// errors become opaque 500s; the detail stays in the logs.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": middleware.GetRequestID(c),
		}).Error("Request failed")
		c.JSON(status, common.ErrorResponse{Error: code, Message: "internal error"})
		return
	}
	c.JSON(status, common.ErrorResponse{Error: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound, common.CodeUnknownAccount
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest, common.CodeInsufficientBalance
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, common.CodeValidation

	case errors.Is(err, cards.ErrCardNotFound):
		return http.StatusNotFound, common.CodeNotFound
	case errors.Is(err, cards.ErrInvalidCredentials):
		return http.StatusUnauthorized, common.CodeUnauthorized
	case errors.Is(err, cards.ErrCardExpired):
		return http.StatusConflict, common.CodeCardExpired
	case errors.Is(err, cards.ErrCardNotActive):
		return http.StatusConflict, common.CodeStateConflict
	case errors.Is(err, cards.ErrInsufficientSourceBalance):
		return http.StatusBadRequest, common.CodeInsufficientSourceBalance
	case errors.Is(err, cards.ErrInsufficientCardBalance):
		return http.StatusBadRequest, common.CodeInsufficientBalance
	case errors.Is(err, cards.ErrNotCardSeller):
		return http.StatusForbidden, common.CodeForbidden
	case errors.Is(err, cards.ErrSourceNotFound):
		return http.StatusNotFound, common.CodeNotFound

	case errors.Is(err, pools.ErrPoolNotFound):
		return http.StatusNotFound, common.CodeNotFound
	case errors.Is(err, pools.ErrPoolClosed):
		return http.StatusConflict, common.CodePoolClosed
	case errors.Is(err, pools.ErrOutOfBounds):
		return http.StatusBadRequest, common.CodeOutOfBounds
	case errors.Is(err, pools.ErrPlatformMismatch):
		return http.StatusBadRequest, common.CodePlatformMismatch
	case errors.Is(err, pools.ErrAccountNotFound):
		return http.StatusNotFound, common.CodeNotFound
	case errors.Is(err, pools.ErrNotPoolOwner):
		return http.StatusForbidden, common.CodeForbidden
	case errors.Is(err, pools.ErrPoolingDisabled):
		return http.StatusConflict, common.CodeStateConflict

	case errors.Is(err, market.ErrListingNotFound):
		return http.StatusNotFound, common.CodeNotFound
	case errors.Is(err, market.ErrAlreadySold):
		return http.StatusConflict, common.CodeStateConflict
	case errors.Is(err, market.ErrOwnListing):
		return http.StatusBadRequest, common.CodeValidation
	case errors.Is(err, market.ErrListingExpired):
		return http.StatusConflict, common.CodeCardExpired
	case errors.Is(err, market.ErrInsufficientFunds):
		return http.StatusBadRequest, common.CodeInsufficientBalance

	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, common.CodeNotFound
	case errors.Is(err, sessions.ErrNotSessionOwner):
		return http.StatusForbidden, common.CodeForbidden
	case errors.Is(err, sessions.ErrSessionNotActive):
		return http.StatusConflict, common.CodeSessionNotActive
	case errors.Is(err, sessions.ErrSessionExhausted):
		return http.StatusConflict, common.CodeSessionExhausted
	case errors.Is(err, sessions.ErrCardNotPurchased):
		return http.StatusConflict, common.CodeCardNotPurchased
	}
	return http.StatusInternalServerError, common.CodeInternal
}
