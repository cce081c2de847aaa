// Package appmetrics collects Prometheus metrics for the hub: standard
// HTTP request metrics plus hub-specific connection/channel/message
// series, each registered against its own registry so multiple
// instances (e.g. in tests) never collide on the global default one.
package appmetrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages Prometheus metrics for a service.
type Collector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
	serviceInfo         *prometheus.GaugeVec
}

// NewCollector creates a metrics collector for a service, registering
// standard HTTP metrics immediately.
func NewCollector(serviceName, version, commit string) *Collector {
	sanitized := strings.ReplaceAll(serviceName, "-", "_")
	registry := prometheus.NewRegistry()

	mc := &Collector{
		serviceName: sanitized,
		registry:    registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitized + "_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitized + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: sanitized + "_active_connections",
			Help: "Number of active connections",
		}),
		serviceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitized + "_service_info",
			Help: "Service information",
		}, []string{"version", "commit"}),
	}

	registry.MustRegister(mc.httpRequestsTotal, mc.httpRequestDuration, mc.activeConnections, mc.serviceInfo)
	mc.serviceInfo.WithLabelValues(version, commit).Set(1)
	return mc
}

// Register adds a caller-constructed collector (e.g. a hub-specific
// GaugeVec) to this collector's registry.
func (mc *Collector) Register(c prometheus.Collector) {
	mc.registry.MustRegister(c)
}

// Middleware returns gin middleware recording request count and latency.
func (mc *Collector) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		mc.activeConnections.Inc()
		defer mc.activeConnections.Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		mc.httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration)
	}
}

// Handler exposes this collector's registry over /metrics.
func (mc *Collector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// NewGauge creates and registers a GaugeVec under this service's namespace.
func (mc *Collector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: mc.serviceName + "_" + name, Help: help}, labels)
	mc.Register(g)
	return g
}

// NewCounter creates and registers a CounterVec under this service's namespace.
func (mc *Collector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: mc.serviceName + "_" + name, Help: help}, labels)
	mc.Register(c)
	return c
}

// NewHistogram creates and registers a HistogramVec under this service's namespace.
func (mc *Collector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: mc.serviceName + "_" + name, Help: help, Buckets: buckets}, labels)
	mc.Register(h)
	return h
}
