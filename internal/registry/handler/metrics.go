package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/certledger/internal/registry/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	certCertificatesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "certledger_certificates_total",
		Help: "Number of certificates ever registered.",
	})

	certRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	certRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "certledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	certHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_health_checks_total",
		Help: "Total backend readiness probes by backend and result.",
	}, []string{"backend", "result"})

	certLedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_ledger_entries_total",
		Help: "Total trust ledger entries appended, by action.",
	}, []string{"action"})

	certResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certledger_resolutions_total",
		Help: "Total domain resolutions by security status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		certRequestsTotal.WithLabelValues(method, path, status).Inc()
		certRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordHealthCheck records a readiness probe result for backend.
func RecordHealthCheck(backend string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	certHealthChecksTotal.WithLabelValues(backend, result).Inc()
}

// RecordLedgerAppend records an included ledger entry. It matches the
// engine's OnAppend hook.
func RecordLedgerAppend(action string) {
	certLedgerEntriesTotal.WithLabelValues(action).Inc()
}

// RecordResolution records the outcome of one domain resolution.
func RecordResolution(status model.SecurityStatus) {
	certResolutionsTotal.WithLabelValues(string(status)).Inc()
}

// SetCertificatesGauge sets the registered-certificate gauge.
func SetCertificatesGauge(count int) {
	certCertificatesTotal.Set(float64(count))
}
