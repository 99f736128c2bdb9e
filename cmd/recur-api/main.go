package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/loopcart/recur/pkg/api"
	"github.com/loopcart/recur/pkg/cache"
	"github.com/loopcart/recur/pkg/config"
	"github.com/loopcart/recur/pkg/events"
	"github.com/loopcart/recur/pkg/middleware"
	"github.com/loopcart/recur/pkg/observability"
	"github.com/loopcart/recur/pkg/plans"
	"github.com/loopcart/recur/pkg/pricing"
	"github.com/loopcart/recur/pkg/retention"
	"github.com/loopcart/recur/pkg/tenancy"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "recur-api")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	cancel()
	logger.Info("Connected to PostgreSQL")

	var redisClient *cache.RedisClient
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedisClient(cache.Config{
			RedisURL:      cfg.Cache.RedisURL,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
			RedisPoolSize: cfg.Cache.RedisPoolSize,
			L1Size:        cfg.Cache.L1Size,
			TTL:           cfg.Cache.TTL,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		logger.Info("Connected to Redis")
	}

	otelProviders, err := observability.InitOTel(context.Background(), observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	sink := events.NewWebhookSink()
	resolver := tenancy.NewPostgresResolver(db)

	var redisConn *redis.Client
	if redisClient != nil {
		redisConn = redisClient.GetClient()
	}

	var rateLimit func(http.Handler) http.Handler
	if cfg.Server.RateLimitEnabled {
		if redisConn != nil {
			rateLimit = middleware.NewDistributedRateLimitMiddleware(redisConn).Handler
			logger.Info("Rate limiting enabled (distributed)")
		} else {
			rateLimit = middleware.NewRateLimitMiddleware().Handler
			logger.Info("Rate limiting enabled (in-memory)")
		}
	}

	var planService plans.Service = plans.NewPostgresService(db, resolver, sink)
	if redisClient != nil {
		planService = cache.NewPlanService(planService, redisClient, cache.Config{
			L1Size: cfg.Cache.L1Size,
			TTL:    cfg.Cache.TTL,
		}, logger)
	}
	pricingService := pricing.NewPostgresService(db, sink, logger)
	retentionService := retention.NewPostgresService(db, planService, sink, logger)

	server := api.NewServer(api.Config{
		PlanService:      planService,
		PricingService:   pricingService,
		RetentionService: retentionService,
		Resolver:         resolver,
		AccessResolver:   resolver,
		Metrics:          metrics,
		RateLimit:        rateLimit,
		RequestTimeout:   cfg.Server.RequestTimeout,
	})

	var handler http.Handler = server
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "recur-api")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port so probes bypass the API
	// middleware chain.
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisConn)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("API server failed")
		}
	}()

	manager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		manager.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		manager.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if err := manager.WaitForShutdown(); err != nil {
		logger.WithError(err).Fatal("Shutdown finished with errors")
	}
}
