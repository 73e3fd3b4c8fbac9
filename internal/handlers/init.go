package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjephuneh/subsplitAI-sub000/internal/cards"
	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/market"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pools"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pricing"
	"github.com/cjephuneh/subsplitAI-sub000/internal/sessions"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/crypto"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
)

var (
	db          *sql.DB
	logger      logging.Logger
	metrics     *ChandlerMetrics
	ledgerSvc   *ledger.Ledger
	cardIssuer  *cards.Issuer
	poolManager *pools.Manager
	marketplace *market.Marketplace
	sessionCtl  *sessions.Controller
	pricingEng  *pricing.Engine
	fieldCrypt  *crypto.FieldEncryptor
	jwtSecret   []byte
)

// ChandlerMetrics holds all Prometheus metrics for Chandler
type ChandlerMetrics struct {
	CardOperations  *prometheus.CounterVec
	Purchases       *prometheus.CounterVec
	SessionRequests *prometheus.CounterVec
	PoolOperations  *prometheus.CounterVec
	DBQueries       *prometheus.CounterVec
	DBDuration      *prometheus.HistogramVec
	DBConnections   *prometheus.GaugeVec
}

// Deps bundles the wired components the handlers dispatch into
type Deps struct {
	DB          *sql.DB
	Logger      logging.Logger
	Metrics     *ChandlerMetrics
	Ledger      *ledger.Ledger
	Cards       *cards.Issuer
	Pools       *pools.Manager
	Marketplace *market.Marketplace
	Sessions    *sessions.Controller
	Pricing     *pricing.Engine
	FieldCrypt  *crypto.FieldEncryptor
	JWTSecret   []byte
}

// Init initializes the handlers with their dependencies
func Init(deps Deps) {
	db = deps.DB
	logger = deps.Logger
	metrics = deps.Metrics
	if metrics == nil {
		metrics = &ChandlerMetrics{}
	}
	ledgerSvc = deps.Ledger
	cardIssuer = deps.Cards
	poolManager = deps.Pools
	marketplace = deps.Marketplace
	sessionCtl = deps.Sessions
	pricingEng = deps.Pricing
	fieldCrypt = deps.FieldCrypt
	jwtSecret = deps.JWTSecret
}

func countOp(vec *prometheus.CounterVec, labels ...string) {
	if vec != nil {
		vec.WithLabelValues(labels...).Inc()
	}
}
