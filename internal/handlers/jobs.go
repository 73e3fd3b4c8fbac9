package handlers

import (
	"context"
	"sync"
	"time"
)

// Job intervals. Expiry is lazy on every read; the sweeps only keep
// reporting views and the listing book honest.
const (
	DefaultExpirySweepInterval    = 60 * time.Second
	DefaultPricingRefreshInterval = 5 * time.Minute
)

// JobManager runs the periodic maintenance loops: expiring cards and
// sessions past their window, and refreshing listing prices from the
// live demand multiplier.
type JobManager struct {
	expiryInterval  time.Duration
	pricingInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewJobManager creates a JobManager. Zero intervals get the defaults.
func NewJobManager(expiryInterval, pricingInterval time.Duration) *JobManager {
	if expiryInterval <= 0 {
		expiryInterval = DefaultExpirySweepInterval
	}
	if pricingInterval <= 0 {
		pricingInterval = DefaultPricingRefreshInterval
	}
	return &JobManager{
		expiryInterval:  expiryInterval,
		pricingInterval: pricingInterval,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the background loops
func (jm *JobManager) Start() {
	logger.WithField("expiry_interval", jm.expiryInterval.String()).
		WithField("pricing_interval", jm.pricingInterval.String()).
		Info("Starting background jobs")

	jm.wg.Add(2)
	go jm.runLoop(jm.expiryInterval, jm.sweepExpired)
	go jm.runLoop(jm.pricingInterval, jm.refreshPrices)
}

// Stop signals the loops to exit and waits for them
func (jm *JobManager) Stop() {
	close(jm.stopCh)
	jm.wg.Wait()
	logger.Info("Background jobs stopped")
}

func (jm *JobManager) runLoop(interval time.Duration, job func(context.Context)) {
	defer jm.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			job(ctx)
			cancel()
		}
	}
}

func (jm *JobManager) sweepExpired(ctx context.Context) {
	if n, err := cardIssuer.SweepExpired(ctx); err != nil {
		logger.WithError(err).Error("Card expiry sweep failed")
	} else if n > 0 {
		logger.WithField("cards", n).Info("Expired cards swept")
	}

	if n, err := sessionCtl.SweepExpired(ctx); err != nil {
		logger.WithError(err).Error("Session expiry sweep failed")
	} else if n > 0 {
		logger.WithField("sessions", n).Info("Expired sessions swept")
	}
}

func (jm *JobManager) refreshPrices(ctx context.Context) {
	n, err := pricingEng.RefreshListingPrices(ctx)
	if err != nil {
		logger.WithError(err).Error("Listing price refresh failed")
		return
	}
	if n > 0 {
		logger.WithField("listings", n).Info("Listing prices refreshed")
	}
}
