package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request-level Prometheus metrics.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers HTTP metrics on the default registry.
func NewHTTPMetrics() *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixforge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mixforge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	prometheus.MustRegister(m.requests, m.duration)
	return m
}

// GinMiddleware instruments each request.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// EngineMetrics counts processing-engine events.
type EngineMetrics struct {
	admissions   *prometheus.CounterVec
	refunds      prometheus.Counter
	archiveBytes prometheus.Counter
}

// NewEngineMetrics registers engine metrics on the default registry.
func NewEngineMetrics() *EngineMetrics {
	m := &EngineMetrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixforge",
			Subsystem: "processing",
			Name:      "admissions_total",
			Help:      "Job admission attempts by outcome.",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mixforge",
			Subsystem: "processing",
			Name:      "refunds_total",
			Help:      "Credit refunds applied for failed jobs.",
		}),
		archiveBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mixforge",
			Subsystem: "delivery",
			Name:      "archive_bytes_total",
			Help:      "Bytes streamed through ZIP archives.",
		}),
	}
	prometheus.MustRegister(m.admissions, m.refunds, m.archiveBytes)
	return m
}

func (m *EngineMetrics) RecordAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) RecordRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

func (m *EngineMetrics) AddArchiveBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.archiveBytes.Add(float64(n))
}
