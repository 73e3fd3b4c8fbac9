package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cjephuneh/subsplitAI-sub000/internal/pricing"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/chandler"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/api/common"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

func trendResponse(t pricing.Trend) chandler.TrendsResponse {
	return chandler.TrendsResponse{
		Platform:              t.Platform,
		Days:                  t.Days,
		AveragePrice:          t.AveragePrice,
		AverageBasePrice:      t.AverageBasePrice,
		PriceTrend:            t.PriceTrend,
		DemandLevel:           t.DemandLevel,
		RecommendedMultiplier: t.RecommendedMultiplier,
		SampleSize:            t.SampleSize,
	}
}

// GetDemand returns the live demand multiplier for a platform. The
// lookback window and region default to 24 hours and "global".
func GetDemand(c *gin.Context) {
	platform := c.Param("platform")
	if !models.IsSupportedPlatform(platform) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:   common.CodeValidation,
			Message: "unsupported platform: " + platform,
		})
		return
	}

	windowHours := pricing.DefaultWindowHours
	if raw := c.Query("time_window_hours"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 168 {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid time_window_hours"})
			return
		}
		windowHours = v
	}
	region := c.DefaultQuery("region", "global")

	multiplier, err := pricingEng.DemandMultiplier(c.Request.Context(), platform, windowHours)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.DemandResponse{
		Platform:         platform,
		Region:           region,
		WindowHours:      windowHours,
		DemandMultiplier: multiplier,
	}})
}

// GetTrends returns pricing trend analysis for a platform
func GetTrends(c *gin.Context) {
	platform := c.Param("platform")
	if !models.IsSupportedPlatform(platform) {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error:   common.CodeValidation,
			Message: "unsupported platform: " + platform,
		})
		return
	}

	days := 0
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 90 {
			c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: common.CodeValidation, Message: "invalid days"})
			return
		}
		days = v
	}

	trend, err := pricingEng.Trends(c.Request.Context(), platform, days)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: trendResponse(*trend)})
}

// GetMarketOverview aggregates trends across all supported platforms
func GetMarketOverview(c *gin.Context) {
	overview, err := pricingEng.MarketOverview(c.Request.Context(), 0)
	if err != nil {
		respondError(c, err)
		return
	}

	data := make(map[string]chandler.TrendsResponse, len(overview.MarketData))
	for platform, trend := range overview.MarketData {
		data[platform] = trendResponse(trend)
	}

	c.JSON(http.StatusOK, common.DataResponse{Data: chandler.MarketOverviewResponse{
		MarketData: data,
		Summary: chandler.MarketSummary{
			TotalPlatforms:  overview.TotalPlatforms,
			ActivePlatforms: overview.ActivePlatforms,
		},
	}})
}
