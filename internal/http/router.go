// Package httpapi wires the admin HTTP transport (Gin) to the resolver,
// diagnostics recorder, cache, and reconciliation job. It centralizes
// cross-cutting concerns: tracing, correlation IDs, logging with scrubbing,
// panic recovery, metrics, CORS, and security headers.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id (doubles as the
//     diagnostics correlation id for any resolution the request triggers)
//  3. Logger: structured access logs with secret/PII scrubbing
//  4. Recovery: capture panics after the logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/kamdental/dental-sync/internal/cache"
	"github.com/kamdental/dental-sync/internal/config"
	"github.com/kamdental/dental-sync/internal/diag"
	"github.com/kamdental/dental-sync/internal/http/handlers"
	"github.com/kamdental/dental-sync/internal/http/middleware"
	"github.com/kamdental/dental-sync/internal/reconcile"
	"github.com/kamdental/dental-sync/internal/resolver"
)

// Deps carries the collaborators the admin API exposes. All fields are
// required except Targets, which may be empty when no systems are
// configured for scheduled reconciliation.
type Deps struct {
	Resolver *resolver.Resolver
	Cache    *cache.Cache
	Diag     *diag.Recorder
	Job      *reconcile.Job
	Targets  []reconcile.SystemTarget
}

// cacheShim adapts the concrete cache to the handlers.CacheInspector
// interface, keeping the handlers package decoupled from the cache package.
type cacheShim struct{ c *cache.Cache }

func (s cacheShim) Stats() handlers.CacheStats {
	st := s.c.Stats()
	return handlers.CacheStats{Hits: st.Hits, Misses: st.Misses, Size: st.Size}
}

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine: observability, health, metrics, and the versioned admin API under
// /api/v1.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests, logs, and diagnostics records
	r.Use(middleware.RequestID())

	// 3) Structured access logging (queries and headers scrubbed)
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; the admin payloads are tiny)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true, // credential-adjacent responses must not be cached
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Resolver, deps.Diag, cacheShim{deps.Cache}, deps.Job, deps.Targets)

	api := r.Group("/api/v1")
	{
		api.POST("/resolve", h.Resolve)

		// Diagnostics exports can run to hundreds of KiB; compress them.
		api.GET("/diagnostics", gzip.Gzip(gzip.DefaultCompression), h.Diagnostics)

		api.GET("/cache/stats", h.CacheStatsHandler)
		api.POST("/reconcile", h.Reconcile)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; reads past the cap error downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
