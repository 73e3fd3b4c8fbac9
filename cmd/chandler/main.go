package main

import (
	"context"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cjephuneh/subsplitAI-sub000/internal/cards"
	"github.com/cjephuneh/subsplitAI-sub000/internal/handlers"
	"github.com/cjephuneh/subsplitAI-sub000/internal/ledger"
	"github.com/cjephuneh/subsplitAI-sub000/internal/market"
	"github.com/cjephuneh/subsplitAI-sub000/internal/platform"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pools"
	"github.com/cjephuneh/subsplitAI-sub000/internal/pricing"
	"github.com/cjephuneh/subsplitAI-sub000/internal/sessions"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/auth"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/config"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/crypto"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/database"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/kafka"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/monitoring"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/redis"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/server"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("chandler")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Chandler (Credit Marketplace API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(context.Background(), db, logger); err != nil {
		logger.WithError(err).Fatal("Schema migration failed")
	}

	// Optional Redis for demand multiplier caching
	var redisClient goredis.UniversalClient
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		client, err := redis.NewClientFromURL(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Redis connection failed")
		}
		defer client.Close()
		redisClient = client
	} else {
		logger.Warn("REDIS_URL not set, demand multiplier caching disabled")
	}

	// Optional Kafka for the ledger event stream. A nil producer is a no-op.
	var producer *kafka.Producer
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		p, err := kafka.NewProducer(strings.Split(brokers, ","), "chandler", logger)
		if err != nil {
			logger.WithError(err).Fatal("Kafka producer setup failed")
		}
		defer p.Close()
		producer = p
	} else {
		logger.Warn("KAFKA_BROKERS not set, ledger event publishing disabled")
	}

	// Credential field encryption, keyed off its own secret
	fieldCrypt, err := crypto.DeriveFieldEncryptor([]byte(config.GetEnv("FIELD_ENCRYPTION_SECRET", jwtSecret)), "platform-credentials")
	if err != nil {
		logger.WithError(err).Fatal("Field encryptor setup failed")
	}

	// Wire the marketplace components
	ledgerSvc := ledger.New(db, logger, producer)
	pricingEng := pricing.NewEngine(db, redisClient, logger,
		config.GetEnvFloat("PRICING_MIN_MULTIPLIER", pricing.DefaultMinMultiplier),
		config.GetEnvFloat("PRICING_MAX_MULTIPLIER", pricing.DefaultMaxMultiplier))
	cardIssuer := cards.NewIssuer(db, logger, ledgerSvc)
	poolManager := pools.NewManager(db, logger, ledgerSvc)
	marketplace := market.New(db, logger, ledgerSvc, pricingEng)
	sessionCtl := sessions.NewController(db, logger, ledgerSvc, platform.NewSimulated())

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("chandler", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("chandler", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))
	if redisClient != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	}
	if producer != nil {
		healthChecker.AddCheck("kafka", func() monitoring.CheckResult {
			if err := producer.HealthCheck(); err != nil {
				return monitoring.CheckResult{Status: monitoring.StatusUnhealthy, Message: err.Error()}
			}
			return monitoring.CheckResult{Status: monitoring.StatusHealthy}
		})
	}

	// Create custom marketplace metrics
	metrics := &handlers.ChandlerMetrics{
		CardOperations:  metricsCollector.NewCounter("card_operations_total", "Virtual card operations", []string{"operation", "platform"}),
		Purchases:       metricsCollector.NewCounter("purchases_total", "Marketplace purchases", []string{"status"}),
		SessionRequests: metricsCollector.NewCounter("session_requests_total", "Session operations and metered requests", []string{"operation", "kind"}),
		PoolOperations:  metricsCollector.NewCounter("pool_operations_total", "Credit pool operations", []string{"operation", "platform"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Initialize handlers
	handlers.Init(handlers.Deps{
		DB:          db,
		Logger:      logger,
		Metrics:     metrics,
		Ledger:      ledgerSvc,
		Cards:       cardIssuer,
		Pools:       poolManager,
		Marketplace: marketplace,
		Sessions:    sessionCtl,
		Pricing:     pricingEng,
		FieldCrypt:  fieldCrypt,
		JWTSecret:   []byte(jwtSecret),
	})

	// Start background sweeps and price refresh
	jobManager := handlers.NewJobManager(
		config.GetEnvDuration("EXPIRY_SWEEP_INTERVAL", handlers.DefaultExpirySweepInterval),
		config.GetEnvDuration("PRICING_REFRESH_INTERVAL", handlers.DefaultPricingRefreshInterval))
	jobManager.Start()
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "chandler", healthChecker, metricsCollector)

	v1 := router.Group("/api/v1")
	{
		// Public endpoints
		v1.POST("/auth/register", handlers.Register)
		v1.POST("/auth/login", handlers.Login)
		v1.POST("/virtual-cards/validate", handlers.ValidateVirtualCard)
		v1.POST("/virtual-cards/:id/charge", handlers.ChargeVirtualCard)
		v1.GET("/marketplace/listings", handlers.GetListings)
		v1.GET("/marketplace/platforms", handlers.GetMarketPlatforms)
		v1.GET("/pricing/demand/:platform", handlers.GetDemand)
		v1.GET("/pricing/trends/:platform", handlers.GetTrends)
		v1.GET("/pricing/market-overview", handlers.GetMarketOverview)

		// Authentication required endpoints
		protected := v1.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/auth/me", handlers.Me)
			protected.GET("/wallet", handlers.GetWallet)
			protected.POST("/wallet/deposit", handlers.DepositWallet)

			protected.POST("/platform-accounts/connect", handlers.ConnectPlatformAccount)
			protected.GET("/platform-accounts", handlers.ListPlatformAccounts)
			protected.DELETE("/platform-accounts/:id", handlers.DisconnectPlatformAccount)

			protected.POST("/virtual-cards/create", handlers.CreateVirtualCard)
			protected.GET("/virtual-cards", handlers.ListVirtualCards)
			protected.DELETE("/virtual-cards/:id", handlers.RevokeVirtualCard)

			protected.POST("/marketplace/purchase", handlers.PurchaseListing)
			protected.GET("/marketplace/my-purchases", handlers.GetMyPurchases)
			protected.GET("/marketplace/my-sales", handlers.GetMySales)

			protected.POST("/credit-pools/create", handlers.CreateCreditPool)
			protected.POST("/credit-pools/contribute", handlers.ContributeToPool)
			protected.GET("/credit-pools/public", handlers.ListPublicPools)
			protected.GET("/credit-pools/my-pools", handlers.ListMyPools)
			protected.GET("/credit-pools/:id/stats", handlers.GetPoolStats)
			protected.POST("/credit-pools/:id/close", handlers.CloseCreditPool)

			protected.POST("/sessions/create", handlers.CreateSession)
			protected.POST("/sessions/:id/request", handlers.ExecuteSessionRequest)
			protected.DELETE("/sessions/:id", handlers.TerminateSession)
			protected.GET("/sessions/:id", handlers.GetSession)
			protected.GET("/sessions", handlers.ListSessions)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("chandler", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
