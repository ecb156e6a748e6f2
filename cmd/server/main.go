package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sdko-org/query-gateway/internal/accesslog"
	"github.com/sdko-org/query-gateway/internal/analytics"
	"github.com/sdko-org/query-gateway/internal/cache"
	"github.com/sdko-org/query-gateway/internal/config"
	"github.com/sdko-org/query-gateway/internal/database"
	"github.com/sdko-org/query-gateway/internal/executor"
	"github.com/sdko-org/query-gateway/internal/gateway"
	"github.com/sdko-org/query-gateway/internal/handlers"
	"github.com/sdko-org/query-gateway/internal/httpserver"
	"github.com/sdko-org/query-gateway/internal/metrics"
	"github.com/sdko-org/query-gateway/internal/ratelimit"
	"github.com/sdko-org/query-gateway/internal/registry"
	"github.com/sdko-org/query-gateway/internal/retention"
	"github.com/sdko-org/query-gateway/internal/tokens"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(logger, database.PostgresConfig{
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		DBName:   cfg.PostgresDatabase,
		SSLMode:  cfg.PostgresSSLMode,
	})
	if err != nil {
		logger.WithError(err).Fatal("Database initialization failed")
	}

	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Redis initialization failed")
	}
	defer redisClient.Close()

	promRegistry := prometheus.NewRegistry()
	gatewayMetrics := metrics.New(promRegistry)

	endpointRegistry := registry.New(logger, db)
	tokenStore := tokens.New(logger, db)
	limiter := ratelimit.New(logger, db)
	resultCache := cache.New(logger, redisClient)
	queryExecutor := executor.New(logger, db, executor.Config{
		Timeout:    cfg.QueryTimeout,
		MaxRetries: cfg.QueryMaxRetries,
		MaxLimit:   cfg.QueryMaxLimit,
	})
	recorder := accesslog.New(logger, db)
	analyticsClient := analytics.NewClient(logger, cfg.AnalyticsURL, cfg.AnalyticsToken)

	gw := gateway.New(logger, endpointRegistry, tokenStore, limiter, resultCache, queryExecutor, recorder, gatewayMetrics, gateway.Options{
		CacheTTL:     cfg.CacheTTL,
		SingleFlight: true,
	})

	var archiver retention.Archiver
	if cfg.ArchiveEnabled {
		archiver = retention.NewS3Archiver(cfg)
	}
	purger := retention.NewPurger(logger, db, archiver, retention.Config{
		RetentionDays: cfg.RetentionDays,
		Interval:      cfg.RetentionInterval,
	})
	go purger.Start(ctx)

	globalLimiter := handlers.NewGlobalRateLimiter(cfg.GlobalRateLimit, cfg.GlobalRateWindow)
	globalLimiter.StartCleanup(ctx)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger))
	r.Use(globalLimiter.Middleware)

	gatewayHandler := handlers.NewGatewayHandler(logger, gw)
	adminHandler := handlers.NewAdminHandler(logger, endpointRegistry, resultCache, recorder, analyticsClient)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
	handlers.RegisterRoutes(r, gatewayHandler, adminHandler, metricsHandler)

	tlsAddr := ""
	if cfg.EnableTLS {
		tlsAddr = cfg.TLSAddr
	}
	if err := httpserver.Run(ctx, logger, r, cfg.ListenAddr, tlsAddr); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
