// Package server contains the HTTP handlers and route assembly for the
// moderation and entitlement API.
package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"murmur/internal/bootstrap"
	"murmur/internal/catalog"
	"murmur/internal/config"
	"murmur/internal/featureflags"
	"murmur/internal/identity"
	"murmur/internal/middleware"
	"murmur/internal/models"
	"murmur/internal/notifications"
	"murmur/internal/repository"
	"murmur/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config          *config.Config
	db              *gorm.DB
	redis           *redis.Client
	app             *fiber.App
	promMiddleware  *fiberprometheus.FiberPrometheus
	shutdownCtx     context.Context
	shutdownFn      context.CancelFunc
	resolver        *identity.Resolver
	featureFlags    *featureflags.Manager
	restrictionRepo repository.RestrictionRepository
	auditRepo       repository.AuditRepository
	walletRepo      repository.WalletRepository
	notifier        *notifications.Notifier
	moderation      *service.ModerationService
	wallets         *service.WalletService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("feature catalog failed to load: %w", err)
	}

	restrictionRepo := repository.NewRestrictionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	walletRepo := repository.NewWalletRepository(db)

	prom := middleware.InitMetrics("murmur-api")

	server := &Server{
		config:          cfg,
		db:              db,
		redis:           redisClient,
		promMiddleware:  prom,
		resolver:        identity.NewResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.AdminEmailSet()),
		featureFlags:    featureflags.NewManager(cfg.FeatureFlags),
		restrictionRepo: restrictionRepo,
		auditRepo:       auditRepo,
		walletRepo:      walletRepo,
	}
	server.moderation = service.NewModerationService(restrictionRepo, auditRepo)
	server.wallets = service.NewWalletService(walletRepo, cat, cfg.TokenDailyGrant)

	if redisClient != nil {
		server.notifier = notifications.NewNotifier(redisClient)
	}

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context middleware to propagate request ID and subject
	app.Use(middleware.ContextMiddleware())

	// OpenTelemetry spans
	app.Use(middleware.TracingMiddleware())

	// Prometheus metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit
	// (e.g. limiter) so browser clients still receive CORS headers on error
	// responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Decision endpoint: any caller, identity optional, never errors
	moderation := api.Group("/moderation", s.OptionalAuth())
	moderation.Post("/decide", middleware.RateLimit(
		s.redis, 60, time.Minute, "decide"), s.Decide)

	// Token ledger: requires some identity (session or anonymous id)
	tokens := api.Group("/tokens", s.OptionalAuth())
	tokens.Post("/daily", middleware.RateLimit(
		s.redis, 10, time.Minute, "daily_grant"), s.DailyGrant)
	tokens.Post("/purchase", middleware.RateLimit(
		s.redis, 10, time.Minute, "purchase"), s.Purchase)
	tokens.Get("/balance", s.Balance)
	tokens.Get("/catalog", s.Catalog)

	// Admin routes: verified session on the allow-list
	admin := api.Group("/admin", s.AuthRequired(), s.AdminRequired())
	admin.Post("/restrictions", s.ApplyRestriction)
	admin.Post("/restrictions/revoke", s.RevokeRestriction)
	admin.Get("/restrictions", s.ListRestrictions)
	admin.Get("/audit", s.ListAudit)
	admin.Post("/ip-bans", s.BanIP)
	admin.Get("/ip-bans", s.ListIPBans)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// OptionalAuth parses a bearer session token when one is presented and stores
// the verified claims in locals. An absent or unparseable token leaves the
// request anonymous instead of rejecting it; endpoints that need an identity
// resolve one from the claims or the request's anonymous id.
func (s *Server) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return c.Next()
		}
		claims, err := s.resolver.ParseSession(tokenString)
		if err != nil {
			return c.Next()
		}
		storeClaims(c, claims)
		return c.Next()
	}
}

// AuthRequired returns middleware that rejects requests without a valid
// session token.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}
		claims, err := s.resolver.ParseSession(tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized, err)
		}
		storeClaims(c, claims)
		return c.Next()
	}
}

// AdminRequired returns middleware that rejects callers whose verified email
// is not on the allow-list with 403. Must be placed after AuthRequired so the
// session claims are available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := sessionClaims(c)
		if !s.resolver.IsAdmin(claims) {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// storeClaims saves the verified claims in locals and syncs the subject into
// the user context for logging and downstream services.
func storeClaims(c *fiber.Ctx, claims *identity.SessionClaims) {
	c.Locals("sessionClaims", claims)
	c.Locals("subjectID", claims.UserID)
	ctx := context.WithValue(c.UserContext(), middleware.SubjectKey, claims.UserID)
	c.SetUserContext(ctx)
}

// sessionClaims returns the verified claims stored by auth middleware, or nil.
func sessionClaims(c *fiber.Ctx) *identity.SessionClaims {
	claims, _ := c.Locals("sessionClaims").(*identity.SessionClaims)
	return claims
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Moderation & Entitlement API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
