package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Retention metrics
	OffersPresentedTotal *prometheus.CounterVec
	OffersAcceptedTotal  *prometheus.CounterVec
	OffersDeclinedTotal  *prometheus.CounterVec
	OffersExpiredTotal   prometheus.Counter
	WinbackSentTotal     prometheus.Counter
	WinbackAcceptedTotal prometheus.Counter

	// Pricing metrics
	LoyaltyUpgradesTotal  prometheus.Counter
	PriceLocksActive      prometheus.Gauge
	PriceLockExpiredTotal prometheus.Counter
	EarlyRenewalsTotal    prometheus.Counter

	// Sweep metrics
	SweepRunsTotal  *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec
	SweepItemsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recur_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recur_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recur_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Retention metrics
		OffersPresentedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_offers_presented_total",
				Help: "Total number of retention offers presented",
			},
			[]string{"offer_type", "reason"},
		),
		OffersAcceptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_offers_accepted_total",
				Help: "Total number of retention offers accepted",
			},
			[]string{"offer_type"},
		),
		OffersDeclinedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_offers_declined_total",
				Help: "Total number of retention offers declined",
			},
			[]string{"offer_type"},
		),
		OffersExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recur_offers_expired_total",
				Help: "Total number of retention offers expired",
			},
		),
		WinbackSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recur_winback_sent_total",
				Help: "Total number of win-back offers sent",
			},
		),
		WinbackAcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recur_winback_accepted_total",
				Help: "Total number of win-back offers accepted",
			},
		),

		// Pricing metrics
		LoyaltyUpgradesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recur_loyalty_upgrades_total",
				Help: "Total number of loyalty tier upgrades",
			},
		),
		PriceLocksActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recur_price_locks_active",
				Help: "Number of subscriptions with an active price lock",
			},
		),
		PriceLockExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recur_price_locks_expired_total",
				Help: "Total number of price locks expired",
			},
		),
		EarlyRenewalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "recur_early_renewals_total",
				Help: "Total number of early renewals processed",
			},
		),

		// Sweep metrics
		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_sweep_runs_total",
				Help: "Total number of sweep runs",
			},
			[]string{"sweep", "status"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recur_sweep_duration_seconds",
				Help:    "Sweep run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"sweep"},
		),
		SweepItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_sweep_items_total",
				Help: "Total number of items processed by sweeps",
			},
			[]string{"sweep"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recur_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recur_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recur_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recur_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		// Redis metrics
		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recur_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.OffersPresentedTotal,
		m.OffersAcceptedTotal,
		m.OffersDeclinedTotal,
		m.OffersExpiredTotal,
		m.WinbackSentTotal,
		m.WinbackAcceptedTotal,
		m.LoyaltyUpgradesTotal,
		m.PriceLocksActive,
		m.PriceLockExpiredTotal,
		m.EarlyRenewalsTotal,
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepItemsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisConnectionsActive,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
