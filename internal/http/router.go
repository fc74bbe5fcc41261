// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, and rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP)
//  8. CORS and security headers
package httpapi

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cityheroes/wecom-passbot/internal/config"
	"github.com/cityheroes/wecom-passbot/internal/http/handlers"
	"github.com/cityheroes/wecom-passbot/internal/http/middleware"
)

// Deps carries the constructed handlers the router mounts. All dependencies
// are injected; the router performs no construction of its own beyond
// middleware.
type Deps struct {
	Webhook *handlers.WebhookHandlers
	Admin   *handlers.AdminHandlers
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability, rate limiting, health, the WeCom verification file,
// the callback endpoints, and the admin surface.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; callbacks and CSV uploads are small)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) CORS posture (admin surface is same-origin; default deny-all unless configured)
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderAdminToken},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: int(cfg.Security.HSTSMaxAge.Seconds()),
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

	// WeCom trusted-domain verification file
	if cfg.WeCom.VerifyFilename != "" {
		r.StaticFile("/"+cfg.WeCom.VerifyFilename,
			filepath.Join(cfg.WeCom.VerifyDir, cfg.WeCom.VerifyFilename))
	}

	// Callback endpoints
	r.GET("/wecom/callback", deps.Webhook.Verify)
	r.POST("/wecom/callback", deps.Webhook.Events)

	// Admin surface behind the shared-secret header
	admin := r.Group("/admin", middleware.AdminAuth(cfg.AdminToken))
	{
		admin.GET("/stats", deps.Admin.Stats)
		admin.GET("/assignments", deps.Admin.Assignments)
		admin.GET("/inventory/stats", deps.Admin.InventoryStats)
		admin.POST("/inventory/import", deps.Admin.InventoryImport)
	}
}

// limitBody wraps each request body in http.MaxBytesReader so oversized
// payloads fail fast instead of buffering.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
