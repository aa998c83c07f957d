// Package httpapi wires the HTTP bridge: the Gin engine, its middleware
// chain and the conversation and outbox endpoints.
//
// Chain order:
//  1. OpenTelemetry span per request
//  2. RequestID, then RedactingLogger, then Recovery, so panics carry the id
//  3. body limit, gzip, Prometheus
//  4. CORS and security headers (global, so preflights never meet auth)
//  5. on the API group: JWT bearer auth when a secret is configured, then
//     Idempotency-Key validation, then the per-conversation rate limiter,
//     which lets receipt replays through for free
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/config"
	"github.com/tbourn/go-order-bot/internal/http/handlers"
	"github.com/tbourn/go-order-bot/internal/http/middleware"
	"github.com/tbourn/go-order-bot/internal/repo"
)

const (
	maxBodyBytes = 1 << 20
	jwtLeeway    = 30 * time.Second
)

// Deps are the collaborators the bridge serves.
type Deps struct {
	Assistant handlers.Assistant
	// Outbox is nil when a live transport delivers bot-originated messages;
	// the queue endpoints are then not mounted.
	Outbox handlers.Outbox
	// DB backs idempotency receipts and the health probe. Nil disables both.
	DB *gorm.DB
	// Registerer and Gatherer default to the Prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// receiptStore adapts the receipt repository to handlers.Receipts and the
// idempotency lookup.
type receiptStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s receiptStore) Get(ctx context.Context, conv, key string, now time.Time) ([]string, bool, error) {
	rec, err := repo.GetReceipt(ctx, s.db, conv, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	replies, err := repo.ReceiptReplies(rec)
	if err != nil {
		return nil, false, err
	}
	return replies, true, nil
}

func (s receiptStore) Put(ctx context.Context, conv, key string, replies []string) error {
	_, err := repo.CreateReceipt(ctx, s.db, conv, key, replies, http.StatusOK, s.ttl)
	return err
}

func (s receiptStore) exists(ctx context.Context, conv, key string, now time.Time) (bool, error) {
	_, found, err := s.Get(ctx, conv, key, now)
	return found, err
}

// RegisterRoutes installs the middleware chain and mounts the bridge under
// cfg.APIBasePath, plus /health and /metrics at the root.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	reg, gatherer := deps.Registerer, deps.Gatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-Panel-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.NewHTTPMetrics(reg).Handler())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/health", healthHandler(deps.DB))

	var (
		receipts handlers.Receipts
		lookup   middleware.IdempotencyLookup
	)
	if deps.DB != nil {
		rs := receiptStore{db: deps.DB, ttl: cfg.IdempotencyTTL}
		receipts, lookup = rs, rs.exists
	}
	h := handlers.New(deps.Assistant, deps.Outbox, receipts)

	api := groupWithPrefix(r, cfg.APIBasePath)
	if cfg.BridgeJWTSecret != "" {
		api.Use(middleware.BearerAuth(cfg.BridgeJWTSecret, jwtLeeway))
	}
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))
	api.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByConversationOrIP()).Handler())

	api.POST("/conversations/:id/messages", h.PostMessage)
	if deps.Outbox != nil {
		api.GET("/outbox", h.ListOutbox)
		api.POST("/outbox/:id/ack", h.AckOutbox)
	}
}

// corsMiddleware allows every origin when none are configured (credentials
// off), otherwise only the allowlist.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Idempotency-Replayed", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// healthHandler reports liveness, and database reachability when a DB is
// wired: 503 with status "degraded" when the ping fails.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("health: database unreachable")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies; reads past maxBytes fail downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" or "" as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
