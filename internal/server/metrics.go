package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the HTTP surface and the
// imputation pipeline behind it.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	gapsFilled         *prometheus.CounterVec
	predictionFailures *prometheus.CounterVec
}

// NewMetrics builds and registers all collectors on a private registry so
// multiple server instances (tests included) never collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aircast",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
		gapsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aircast",
			Subsystem: "imputation",
			Name:      "gaps_filled_total",
			Help:      "Missing observations replaced by model predictions.",
		}, []string{"parameter"}),
		predictionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aircast",
			Subsystem: "imputation",
			Name:      "prediction_failures_total",
			Help:      "Rows left unfilled because a window prediction failed.",
		}, []string{"parameter"}),
	}
	m.registry.MustRegister(m.requestDuration, m.gapsFilled, m.predictionFailures)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware records request latency per route template and status.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.WithLabelValues(route, statusLabel(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) observeFill(parameter string, filled, failed int) {
	m.gapsFilled.WithLabelValues(parameter).Add(float64(filled))
	m.predictionFailures.WithLabelValues(parameter).Add(float64(failed))
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
