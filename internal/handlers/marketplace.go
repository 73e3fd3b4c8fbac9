package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cjephuneh/subsplitAI-sub000/internal/market"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
)

func queryFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// GetListings returns the open listing book, cheapest first
func GetListings(c *gin.Context) {
	q := market.SearchQuery{Platform: c.Query("platform")}

	var ok bool
	if q.MinPrice, ok = queryFloat(c, "min_price"); !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid min_price"})
		return
	}
	if q.MaxPrice, ok = queryFloat(c, "max_price"); !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid max_price"})
		return
	}
	if q.MinBalance, ok = queryFloat(c, "min_balance"); !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid min_balance"})
		return
	}
	if q.Limit, ok = queryInt(c, "limit"); !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid limit"})
		return
	}
	if q.Offset, ok = queryInt(c, "offset"); !ok {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid offset"})
		return
	}

	result, err := marketplace.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.ListingsResponse{
		Listings:   result.Listings,
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
		Offset:     result.Offset,
	}})
}

// PurchaseListing buys access to a listed card at the live demand price
func PurchaseListing(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	var req chandler.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: err.Error()})
		return
	}

	purchase, credentials, err := marketplace.Purchase(c.Request.Context(), userID, req.CardID, req.DurationHours)
	if err != nil {
		countOp(metrics.Purchases, "failed")
		respondError(c, err)
		return
	}

	countOp(metrics.Purchases, "completed")
	c.JSON(http.StatusCreated, common.DataResponse{Data: chandler.PurchaseResponse{
		Purchase:    *purchase,
		CardDetails: *credentials,
	}})
}

// GetMyPurchases returns the caller's purchase history, newest first
func GetMyPurchases(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	list, err := marketplace.PurchasesByBuyer(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PurchasesResponse{
		Purchases:  list,
		TotalCount: len(list),
	}})
}

// GetMySales returns sales of the caller's cards, newest first
func GetMySales(c *gin.Context) {
	userID := c.GetString(auth.CtxUserID)

	list, err := marketplace.PurchasesBySeller(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PurchasesResponse{
		Purchases:  list,
		TotalCount: len(list),
	}})
}

// GetMarketPlatforms summarizes the listing book per platform
func GetMarketPlatforms(c *gin.Context) {
	summaries, err := marketplace.Platforms(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]chandler.PlatformSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, chandler.PlatformSummary{
			Platform:       s.Platform,
			ActiveListings: s.ActiveListings,
			MinPrice:       s.MinPrice,
		})
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.PlatformsResponse{
		Platforms:  out,
		TotalCount: len(out),
	}})
}
