package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/cjephuneh/subsplitAI-sub000/pkg/cache"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// Multiplier bounds. Demand can at most triple a card's base price and
// at best halve it.
const (
	DefaultMinMultiplier = 0.5
	DefaultMaxMultiplier = 3.0
)

// DefaultWindowHours is the demand lookback when the caller does not
// pick one.
const DefaultWindowHours = 24

// cacheTTL bounds how stale a cached multiplier may get
const cacheTTL = 60 * time.Second

// trendCacheTTL bounds how stale a cached trend analysis may get. Trends
// aggregate the whole card table, so they are cached in-process.
const trendCacheTTL = 60 * time.Second

// trendThreshold is the relative move that flips a trend from stable
const trendThreshold = 0.05

// Trend carries pricing analysis for one platform
type Trend struct {
	Platform              string
	Days                  int
	AveragePrice          float64
	AverageBasePrice      float64
	PriceTrend            string
	DemandLevel           string
	RecommendedMultiplier float64
	SampleSize            int
}

// Overview aggregates trends across all supported platforms
type Overview struct {
	MarketData      map[string]Trend
	TotalPlatforms  int
	ActivePlatforms int
}

// Engine computes demand-driven price multipliers from marketplace
// activity. Redis caches multipliers briefly; singleflight collapses
// concurrent recomputations for the same platform.
type Engine struct {
	db     *sql.DB
	redis  goredis.UniversalClient
	logger logging.Logger
	group  singleflight.Group
	trends *cache.Cache

	minMultiplier float64
	maxMultiplier float64
}

// NewEngine creates an Engine. redis may be nil; caching is then skipped.
func NewEngine(db *sql.DB, redis goredis.UniversalClient, logger logging.Logger, minMultiplier, maxMultiplier float64) *Engine {
	if minMultiplier <= 0 {
		minMultiplier = DefaultMinMultiplier
	}
	if maxMultiplier < minMultiplier {
		maxMultiplier = DefaultMaxMultiplier
	}
	return &Engine{
		db:            db,
		redis:         redis,
		logger:        logger,
		trends:        cache.New(cache.Options{TTL: trendCacheTTL, MaxEntries: 64}, cache.MetricsHooks{}),
		minMultiplier: minMultiplier,
		maxMultiplier: maxMultiplier,
	}
}

func demandCacheKey(platform string, windowHours int) string {
	return "pricing:demand:" + platform + ":" + strconv.Itoa(windowHours)
}

// DemandMultiplier returns the current multiplier for a platform,
// bounded to [min, max]. Purchase volume inside the trailing window
// pushes it up, standing supply pulls it down. A windowHours of zero
// or less takes the default.
func (e *Engine) DemandMultiplier(ctx context.Context, platform string, windowHours int) (float64, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}

	key := demandCacheKey(platform, windowHours)
	if e.redis != nil {
		cached, err := e.redis.Get(ctx, key).Result()
		if err == nil {
			if v, perr := strconv.ParseFloat(cached, 64); perr == nil {
				return v, nil
			}
		} else if err != goredis.Nil {
			e.logger.WithError(err).Debug("Demand cache read failed")
		}
	}

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		multiplier, err := e.computeMultiplier(ctx, platform, windowHours)
		if err != nil {
			return 0.0, err
		}
		if e.redis != nil {
			if err := e.redis.Set(ctx, key,
				strconv.FormatFloat(multiplier, 'f', -1, 64), cacheTTL).Err(); err != nil {
				e.logger.WithError(err).Debug("Demand cache write failed")
			}
		}
		return multiplier, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (e *Engine) computeMultiplier(ctx context.Context, platform string, windowHours int) (float64, error) {
	var demand, supply int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM purchases p
		JOIN virtual_cards c ON c.id = p.card_id
		WHERE c.platform = $1 AND p.created_at > NOW() - ($2 * INTERVAL '1 hour')
	`, platform, windowHours).Scan(&demand)
	if err != nil {
		return 0, fmt.Errorf("failed to count demand for %s: %w", platform, err)
	}

	err = e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM virtual_cards
		WHERE platform = $1 AND buyer_id IS NULL AND status = 'active'
	`, platform).Scan(&supply)
	if err != nil {
		return 0, fmt.Errorf("failed to count supply for %s: %w", platform, err)
	}

	return e.multiplierFor(demand, supply), nil
}

// multiplierFor maps demand and supply counts onto the bounded range.
// With no activity the market is neutral.
func (e *Engine) multiplierFor(demand, supply int) float64 {
	if demand+supply == 0 {
		return clamp(1.0, e.minMultiplier, e.maxMultiplier)
	}
	ratio := float64(demand) / float64(demand+supply)
	return round4(e.minMultiplier + (e.maxMultiplier-e.minMultiplier)*ratio)
}

// Trends analyzes card prices for a platform over the trailing window.
// Results are cached briefly; concurrent lookups for the same window
// share one computation.
func (e *Engine) Trends(ctx context.Context, platform string, days int) (*Trend, error) {
	if days <= 0 {
		days = 7
	}

	key := platform + ":" + strconv.Itoa(days)
	v, ok, err := e.trends.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		trend, err := e.computeTrend(ctx, platform, days)
		if err != nil {
			return nil, false, err
		}
		return trend, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("trend unavailable for %s", platform)
	}
	return v.(*Trend), nil
}

func (e *Engine) computeTrend(ctx context.Context, platform string, days int) (*Trend, error) {
	var avgPrice, avgBase sql.NullFloat64
	var sampleSize int
	err := e.db.QueryRowContext(ctx, `
		SELECT AVG(current_price), AVG(base_price), COUNT(*)
		FROM virtual_cards
		WHERE platform = $1 AND created_at > NOW() - ($2 * INTERVAL '1 day')
	`, platform, days).Scan(&avgPrice, &avgBase, &sampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate prices for %s: %w", platform, err)
	}

	// The trend compares against the preceding window of equal length.
	var precedingAvg sql.NullFloat64
	err = e.db.QueryRowContext(ctx, `
		SELECT AVG(current_price)
		FROM virtual_cards
		WHERE platform = $1
		  AND created_at <= NOW() - ($2 * INTERVAL '1 day')
		  AND created_at > NOW() - (2 * $2 * INTERVAL '1 day')
	`, platform, days).Scan(&precedingAvg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate preceding window for %s: %w", platform, err)
	}

	multiplier, err := e.DemandMultiplier(ctx, platform, DefaultWindowHours)
	if err != nil {
		return nil, err
	}

	trend := &Trend{
		Platform:              platform,
		Days:                  days,
		AveragePrice:          round4(avgPrice.Float64),
		AverageBasePrice:      round4(avgBase.Float64),
		PriceTrend:            classifyTrend(avgPrice.Float64, precedingAvg.Float64),
		DemandLevel:           e.classifyDemand(multiplier),
		RecommendedMultiplier: multiplier,
		SampleSize:            sampleSize,
	}
	return trend, nil
}

// MarketOverview runs Trends for every supported platform
func (e *Engine) MarketOverview(ctx context.Context, days int) (*Overview, error) {
	overview := &Overview{
		MarketData:     make(map[string]Trend, len(models.SupportedPlatforms)),
		TotalPlatforms: len(models.SupportedPlatforms),
	}
	for _, platform := range models.SupportedPlatforms {
		trend, err := e.Trends(ctx, platform, days)
		if err != nil {
			return nil, err
		}
		overview.MarketData[platform] = *trend
		if trend.SampleSize > 0 {
			overview.ActivePlatforms++
		}
	}
	return overview, nil
}

// RefreshListingPrices recomputes current_price for unsold active cards
// from the live demand multiplier. Called by the background job runner
// so listing prices track the market between purchases.
func (e *Engine) RefreshListingPrices(ctx context.Context) (int64, error) {
	var total int64
	for _, platform := range models.SupportedPlatforms {
		multiplier, err := e.DemandMultiplier(ctx, platform, DefaultWindowHours)
		if err != nil {
			return total, err
		}
		res, err := e.db.ExecContext(ctx, `
			UPDATE virtual_cards
			SET current_price = ROUND((base_price * $1)::numeric, 4),
			    demand_multiplier = $1,
			    updated_at = NOW()
			WHERE platform = $2 AND buyer_id IS NULL AND status = 'active'
		`, multiplier, platform)
		if err != nil {
			return total, fmt.Errorf("failed to refresh prices for %s: %w", platform, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// classifyTrend compares the current window's average price to the
// preceding window's. A window with no prior data is stable.
func classifyTrend(current, preceding float64) string {
	if preceding == 0 {
		return "stable"
	}
	switch {
	case current > preceding*(1+trendThreshold):
		return "rising"
	case current < preceding*(1-trendThreshold):
		return "falling"
	default:
		return "stable"
	}
}

// classifyDemand buckets the multiplier into quartiles of its span.
func (e *Engine) classifyDemand(multiplier float64) string {
	span := e.maxMultiplier - e.minMultiplier
	switch {
	case multiplier >= e.minMultiplier+span*0.75:
		return "very-high"
	case multiplier >= e.minMultiplier+span*0.5:
		return "high"
	case multiplier >= e.minMultiplier+span*0.25:
		return "medium"
	default:
		return "low"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
