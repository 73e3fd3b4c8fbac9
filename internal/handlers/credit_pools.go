package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cjephuneh/subsplitAI-sub000/internal/pools"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// CreateCreditPool opens a pool for a supported platform
func CreateCreditPool(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.CreatePoolRequest
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

	pool, err := poolManager.Create(c.Request.Context(), userID, pools.CreateRequest{
		Platform:        req.Platform,
		PoolName:        req.PoolName,
		MinContribution: req.MinContribution,
		MaxContribution: req.MaxContribution,
		IsPublic:        req.IsPublic,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.PoolOperations, "create", pool.Platform)
	c.JSON(http.StatusCreated, common.DataResponse{Data: pool})
}

// ContributeToPool pledges credits from one of the caller's platform accounts
func ContributeToPool(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.ContributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	contribution, err := poolManager.Contribute(c.Request.Context(), userID, pools.ContributeRequest{
		PoolID:            req.PoolID,
		PlatformAccountID: req.PlatformAccountID,
		Amount:            req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.PoolOperations, "contribute", "")
	c.JSON(http.StatusCreated, common.DataResponse{Data: contribution})
}

// ListPublicPools returns joinable pools, optionally filtered by platform
func ListPublicPools(c *gin.Context) {
	platform := c.Query("platform")
	if platform != "" && !models.IsSupportedPlatform(platform) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:   common.CodeValidation,
			Message: "unsupported platform: " + platform,
		})
		return
	}

	list, err := poolManager.ListPublic(c.Request.Context(), platform)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PoolsResponse{
		Pools:      list,
		TotalCount: len(list),
	}})
}

// ListMyPools returns pools the caller owns
func ListMyPools(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	list, err := poolManager.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PoolsResponse{
		Pools:      list,
		TotalCount: len(list),
	}})
}

// GetPoolStats returns a pool with its derived utilization numbers
func GetPoolStats(c *gin.Context) {
	poolID := c.Param("id")

	stats, err := poolManager.Stats(c.Request.Context(), poolID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PoolStatsResponse{
		Pool:                  stats.Pool,
		AvailableBalance:      stats.AvailableBalance,
		UtilizationPercentage: stats.UtilizationPercentage,
		ContributionCount:     stats.ContributionCount,
	}})
}

// CloseCreditPool closes a pool and refunds contributors pro rata
func CloseCreditPool(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)
	poolID := c.Param("id")

	pool, err := poolManager.Close(c.Request.Context(), userID, poolID)
	if err != nil {
		respondError(c, err)
		return
	}

	countOp(metrics.PoolOperations, "close", pool.Platform)
	c.JSON(http.StatusOK, common.DataResponse{Data: pool})
}
