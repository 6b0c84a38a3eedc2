// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, worker authentication, and edge rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Worker-facing routes (ingest, coordination) authenticated separately
//     from the operator admin surface
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-automation-core/internal/config"
	"github.com/tbourn/go-automation-core/internal/domain"
	"github.com/tbourn/go-automation-core/internal/fanout"
	"github.com/tbourn/go-automation-core/internal/http/handlers"
	"github.com/tbourn/go-automation-core/internal/http/middleware"
	"github.com/tbourn/go-automation-core/internal/invoke"
	"github.com/tbourn/go-automation-core/internal/repo"
	"github.com/tbourn/go-automation-core/internal/services"
)

// registryRepoShim adapts the repository free functions to the
// services.RegistryRepo interface. This keeps services decoupled from the
// concrete repo package while reusing existing functions.
type registryRepoShim struct{}

func (registryRepoShim) FindEntityBySurface(ctx context.Context, db *gorm.DB, platform, serverID, channelID string) (*domain.Entity, error) {
	return repo.FindEntityBySurface(ctx, db, platform, serverID, channelID)
}

func (registryRepoShim) GetEntity(ctx context.Context, db *gorm.DB, id string) (*domain.Entity, error) {
	return repo.GetEntity(ctx, db, id)
}

func (registryRepoShim) CommandsForEntity(ctx context.Context, db *gorm.DB, entityID, triggerKind string) ([]repo.CommandWithPermission, error) {
	return repo.CommandsForEntity(ctx, db, entityID, triggerKind)
}

// ruleRepoShim adapts the rule repository functions to services.RuleRepo.
type ruleRepoShim struct{}

func (ruleRepoShim) ActiveRulesForEntity(ctx context.Context, db *gorm.DB, entityID string) ([]domain.StringMatchRule, error) {
	return repo.ActiveRulesForEntity(ctx, db, entityID)
}

func (ruleRepoShim) BumpRuleMatch(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return repo.BumpRuleMatch(ctx, db, id, now)
}

// leaseRepoShim adapts the lease repository functions to services.LeaseRepo.
type leaseRepoShim struct{}

func (leaseRepoShim) ClaimLeases(ctx context.Context, db *gorm.DB, workerID string, now time.Time, leaseDur time.Duration, limit int) ([]domain.CoordinationLease, error) {
	return repo.ClaimLeases(ctx, db, workerID, now, leaseDur, limit)
}

func (leaseRepoShim) HeartbeatLease(ctx context.Context, db *gorm.DB, workerID, entityID string, now time.Time, leaseDur time.Duration, live domain.Liveness) error {
	return repo.HeartbeatLease(ctx, db, workerID, entityID, now, leaseDur, live)
}

func (leaseRepoShim) ReleaseLease(ctx context.Context, db *gorm.DB, workerID, entityID string, now time.Time) error {
	return repo.ReleaseLease(ctx, db, workerID, entityID, now)
}

func (leaseRepoShim) RecordLeaseError(ctx context.Context, db *gorm.DB, entityID string, threshold int) (int, error) {
	return repo.RecordLeaseError(ctx, db, entityID, threshold)
}

func (leaseRepoShim) ClearLeaseError(ctx context.Context, db *gorm.DB, entityID string) error {
	return repo.ClearLeaseError(ctx, db, entityID)
}

func (leaseRepoShim) ListLeases(ctx context.Context, db *gorm.DB) ([]domain.CoordinationLease, error) {
	return repo.ListLeases(ctx, db)
}

func (leaseRepoShim) OwnerOf(ctx context.Context, db *gorm.DB, entityID string, now time.Time) (string, error) {
	return repo.OwnerOf(ctx, db, entityID, now)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), edge rate limiting, CORS and
// security headers, health and metrics endpoints, and the versioned API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter and gzip
//  6. Metrics
//  7. Rate limiter (per worker/IP)
//  8. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, hub *fanout.Hub, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/overlay/ws"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per worker/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByWorkerOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Worker-Token", "X-Worker-ID"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	registrySvc := services.NewRegistryService(db, registryRepoShim{})

	invoker := invoke.NewHTTPInvoker(cfg.Dispatch.HandlerToken)
	display := fanout.NewForwarder(hub, cfg.OverlayIngestURL)

	dispatchSvc := services.NewDispatchService(db, registrySvc, invoker, display)
	dispatchSvc.RateWindow = cfg.Dispatch.RateWindow
	dispatchSvc.BackoffBase = cfg.Dispatch.BackoffBase
	dispatchSvc.BackoffCap = cfg.Dispatch.BackoffCap
	dispatchSvc.PrefixLocal = cfg.Dispatch.PrefixLocal
	dispatchSvc.PrefixCommunity = cfg.Dispatch.PrefixCommunity

	moderationSvc := services.NewModerationService(db, ruleRepoShim{}, dispatchSvc)

	coordSvc := services.NewCoordinationService(db, leaseRepoShim{})
	coordSvc.LeaseDuration = cfg.Coordination.LeaseDuration
	coordSvc.HeartbeatInterval = cfg.Coordination.HeartbeatInterval
	coordSvc.ErrorThreshold = cfg.Coordination.ErrorThreshold
	coordSvc.ClaimLimit = cfg.Coordination.ClaimLimit

	adminSvc := services.NewAdminService(db)

	h := handlers.New(registrySvc, dispatchSvc, moderationSvc, coordSvc, adminSvc, hub)

	// Overlay fan-out (no worker auth: overlays are read-only subscribers)
	r.GET("/overlay/ws", h.OverlaySocket)

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)

	// Worker-facing surface: ingest and coordination
	worker := api.Group("")
	worker.Use(middleware.WorkerAuth(cfg.WorkerToken))
	{
		worker.POST("/events", h.IngestEvent)

		worker.POST("/leases/claim", h.ClaimLeases)
		worker.POST("/leases/:entity_id/heartbeat", h.HeartbeatLease)
		worker.POST("/leases/:entity_id/release", h.ReleaseLease)
	}

	// Operator surface
	{
		api.GET("/leases", h.ListLeases)
		api.POST("/leases/:entity_id/error", h.RecordLeaseError)
		api.POST("/leases/:entity_id/clear-error", h.ClearLeaseError)

		api.POST("/entities", h.CreateEntity)
		api.GET("/entities", h.ListEntities)
		api.DELETE("/entities/:id", h.DeleteEntity)
		api.PUT("/entities/:id/config", h.UpdateEntityConfig)

		api.POST("/commands", h.CreateCommand)
		api.GET("/commands", h.ListCommands)
		api.PATCH("/commands/:id", h.UpdateCommand)
		api.PUT("/commands/:id/permissions/:entity_id", h.SetPermission)

		api.POST("/rules", h.CreateRule)
		api.PATCH("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeleteRule)

		api.GET("/executions", h.ListExecutions)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
