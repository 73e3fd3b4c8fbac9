package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// CreateSession opens a metered session against a card the caller purchased
func CreateSession(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	session, err := sessionCtl.Create(c.Request.Context(), userID, req.CardID)
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.SessionRequests, "create", session.Platform)
	c.JSON(http.StatusCreated, common.DataResponse{Data: session})
}

// ExecuteSessionRequest runs one metered request inside a session
func ExecuteSessionRequest(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	sessionID := c.Param("id")

	var req chandler.SessionRequestPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}
	requestType := req.RequestType
	if requestType == "" {
		requestType = models.RequestTypeChat
	}

	result, err := sessionCtl.Execute(c.Request.Context(), userID, sessionID, req.Message, requestType)
	if err != nil {
		countOp(metrics.SessionRequests, "failed", requestType)
		respondError(c, err)
		return
	}

	countOp(metrics.SessionRequests, "request", requestType)
	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.SessionRequestResponse{
		Response:       result.Response,
		Cost:           result.Cost,
		RequestCount:   result.RequestCount,
		TotalUsage:     result.TotalUsage,
		RemainingFunds: result.RemainingFunds,
	}})
}

// TerminateSession ends a session. Terminating an already finished
// session returns its current state.
func TerminateSession(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	sessionID := c.Param("id")

	session, err := sessionCtl.Terminate(c.Request.Context(), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.SessionRequests, "terminate", session.Platform)
	c.JSON(http.StatusOK, common.DataResponse{Data: session})
}

// GetSession returns one of the caller's sessions
func GetSession(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	sessionID := c.Param("id")

	session, err := sessionCtl.Get(c.Request.Context(), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: session})
}

// ListSessions returns the caller's sessions, newest first
func ListSessions(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	list, err := sessionCtl.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.SessionsResponse{
		Sessions:   list,
		TotalCount: len(list),
	}})
}
