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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/loopcart/recur/pkg/cache"
	"github.com/loopcart/recur/pkg/config"
	"github.com/loopcart/recur/pkg/events"
	"github.com/loopcart/recur/pkg/observability"
	"github.com/loopcart/recur/pkg/plans"
	"github.com/loopcart/recur/pkg/pricing"
	"github.com/loopcart/recur/pkg/retention"
	"github.com/loopcart/recur/pkg/tenancy"
)

// sweepLockTTL bounds how long a crashed sweeper can hold a lock.
const sweepLockTTL = 10 * time.Minute

type sweeper struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	redis   *cache.RedisClient
}

// run executes one sweep under a best-effort distributed lock so
// concurrent sweeper replicas do not double-process.
func (s *sweeper) run(name string, fn func(context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), sweepLockTTL)
	defer cancel()

	logger := s.logger.WithField("sweep", name)

	if s.redis != nil {
		acquired, err := s.redis.SetNX(ctx, "sweep:lock:"+name, time.Now().Unix(), sweepLockTTL)
		if err != nil {
			logger.WithError(err).Warn("Sweep lock check failed, running anyway")
		} else if !acquired {
			logger.Debug("Sweep is locked by another replica, skipping")
			return nil
		} else {
			defer func() {
				if err := s.redis.Del(context.Background(), "sweep:lock:"+name); err != nil {
					logger.WithError(err).Warn("Failed to release sweep lock")
				}
			}()
		}
	}

	start := time.Now()
	processed, err := fn(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.SweepDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		if err != nil {
			s.metrics.SweepRunsTotal.WithLabelValues(name, "error").Inc()
		} else {
			s.metrics.SweepRunsTotal.WithLabelValues(name, "ok").Inc()
			s.metrics.SweepItemsTotal.WithLabelValues(name).Add(float64(processed))
		}
	}

	if err != nil {
		logger.WithError(err).Error("Sweep failed")
		return err
	}
	logger.WithFields(map[string]interface{}{
		"processed": processed,
		"duration":  elapsed.String(),
	}).Info("Sweep complete")
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "recur-sweeper")

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

	var redisClient *cache.RedisClient
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedisClient(cache.Config{
			RedisURL:      cfg.Cache.RedisURL,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
			RedisPoolSize: cfg.Cache.RedisPoolSize,
		})
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, sweeps run without distributed locks")
			redisClient = nil
		}
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	sink := events.NewWebhookSink()
	planService := plans.NewPostgresService(db, tenancy.NewPostgresResolver(db), sink)
	pricingService := pricing.NewPostgresService(db, sink, logger)
	retentionService := retention.NewPostgresService(db, planService, sink, logger)

	s := &sweeper{logger: logger, metrics: metrics, redis: redisClient}

	c := cron.New()
	schedules := []struct {
		name string
		spec string
		fn   func(context.Context) (int, error)
	}{
		{"loyalty_upgrades", cfg.Sweeps.LoyaltySchedule, pricingService.ProcessLoyaltyUpgrades},
		{"price_lock_expiry", cfg.Sweeps.PriceLockSchedule, pricingService.ProcessExpiredPriceLocks},
		{"offer_expiry", cfg.Sweeps.OfferExpirySchedule, retentionService.ProcessExpiredOffers},
	}
	for _, sched := range schedules {
		sched := sched
		if _, err := c.AddFunc(sched.spec, func() { s.run(sched.name, sched.fn) }); err != nil {
			logger.WithError(err).Fatalf("Invalid schedule for %s sweep: %q", sched.name, sched.spec)
		}
		logger.Infof("Scheduled %s sweep: %q", sched.name, sched.spec)
	}
	c.Start()

	// Catch-up pass so work that accumulated while no sweeper was
	// running is processed immediately rather than on the next tick.
	go func() {
		var g errgroup.Group
		for _, sched := range schedules {
			sched := sched
			g.Go(func() error { return s.run(sched.name, sched.fn) })
		}
		if err := g.Wait(); err != nil {
			logger.WithError(err).Warn("Startup catch-up sweep reported errors")
		}
	}()

	// Health and metrics endpoint for liveness probes.
	healthMux := http.NewServeMux()
	var redisConn *redis.Client
	if redisClient != nil {
		redisConn = redisClient.GetClient()
	}
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

	manager := observability.NewShutdownManager(logger, healthServer, cfg.Server.ShutdownTimeout)
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		manager.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	if err := manager.WaitForShutdown(); err != nil {
		logger.WithError(err).Fatal("Shutdown finished with errors")
	}
}
