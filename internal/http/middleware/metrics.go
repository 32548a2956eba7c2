// Package middleware – Prometheus instrumentation for the admin server.
//
// Metrics() measures request counts, latencies, in-flight concurrency, and
// response sizes. Labels are kept to a bounded set:
//
//   - method: HTTP verb (GET/POST/…)
//   - path:   the registered Gin route (e.g. /api/v1/diagnostics); falls
//     back to the raw URL path when no route matched
//   - status: numeric status code as a string ("200", "404")
//
// Metric names carry the admin_ prefix so they never collide with the
// backend client's backend_requests_total family on the same registry.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	adminReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_http_requests_total",
			Help: "Total number of admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is omitted from the latency histogram to keep cardinality lower.
	adminLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admin_http_request_duration_seconds",
			Help:    "Duration of admin HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	adminInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "admin_http_requests_inflight",
			Help: "Current number of in-flight admin HTTP requests.",
		},
	)

	// Buckets tuned for JSON payloads; the diagnostics export is the only
	// endpoint expected to exceed a few KiB.
	adminRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "admin_http_response_size_bytes",
			Help: "Size of admin HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 5 << 10,
				10 << 10, 50 << 10, 100 << 10,
				500 << 10, 1 << 20,
			},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(adminReqs, adminLat, adminInflight, adminRespSize)
}

// Metrics returns a Gin middleware that instruments admin requests:
// admin_http_requests_total(method, path, status) per request,
// admin_http_request_duration_seconds(method, path) on completion, the
// admin_http_requests_inflight gauge while handlers run, and
// admin_http_response_size_bytes(method, path) with bytes written.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		adminInflight.Inc()
		defer adminInflight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		adminReqs.WithLabelValues(method, path, status).Inc()
		adminLat.WithLabelValues(method, path).Observe(dur)
		if size := c.Writer.Size(); size >= 0 {
			adminRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
