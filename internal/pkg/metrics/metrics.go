package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gpsguard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gpsguard",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Pipeline metrics
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "analysis",
		Name:      "completed_total",
		Help:      "Total completed track analyses by quality label",
	}, []string{"quality"})

	PointsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "analysis",
		Name:      "points_analyzed_total",
		Help:      "Total downsampled track points analysed",
	})

	DangerZonesFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "analysis",
		Name:      "danger_zones_total",
		Help:      "Total danger zones detected",
	})

	PointWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "analysis",
		Name:      "point_warnings_total",
		Help:      "Per-point recovered failures by stage and kind",
	}, []string{"stage", "kind"})

	// External service metrics
	ExternalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "external",
		Name:      "requests_total",
		Help:      "Requests to external data services by outcome",
	}, []string{"service", "outcome"})

	ExternalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gpsguard",
		Subsystem: "external",
		Name:      "request_duration_seconds",
		Help:      "Latency of external data service requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	}, []string{"service"})

	JobsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Asynchronous analysis jobs consumed by outcome",
	}, []string{"outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsguard",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsguard",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsguard",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsguard",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsguard",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics sets the pool gauges from a pgxpool.Stat.
func UpdateDBPoolMetrics(stat interface{}) {
	// Declared locally so this package does not import pgxpool.
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
