package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/meterly/backend/internal/interfaces/http/handler"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Public paths
const (
	HealthPath  = "/health"
	ReadyPath   = "/ready"
	WebhookPath = "/webhooks/stripe"
)

// Handlers are the HTTP endpoints served by the engine
type Handlers struct {
	Billing *handler.BillingHandler
	Credit  *handler.CreditHandler
	Webhook *handler.WebhookHandler
	System  *handler.SystemHandler
}

// EngineConfig wires the engine's middleware and handlers
type EngineConfig struct {
	Logger        *zap.Logger
	HTTP          config.HTTPConfig
	Tracing       middleware.TracingConfig
	MeterProvider *telemetry.MeterProvider
	Tokens        middleware.TokenValidator
	Status        middleware.StatusProvider
	Handlers      Handlers
}

// NewEngine builds the gin engine.
//
// The webhook and probe routes are public. Everything under /api/v1 requires a
// bearer token, and the credit routes are additionally gated on the account's
// access level. The billing routes stay reachable when blocked so the account
// can see why.
func NewEngine(cfg EngineConfig) (*gin.Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	cfg.Tracing.SkipPaths = append(cfg.Tracing.SkipPaths, HealthPath, ReadyPath)
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(cfg.Tracing))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{MeterProvider: cfg.MeterProvider, Logger: log}))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.AllowedOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))

	h := cfg.Handlers
	engine.GET(HealthPath, h.System.Health)
	engine.GET(ReadyPath, h.System.Ready)
	// Signature-authenticated; the handler enforces its own size cap
	engine.POST(WebhookPath, h.Webhook.HandleStripeWebhook)

	r := NewRouter(engine, WithAPIVersion("v1"))
	r.Use(
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
		middleware.JWTAuth(middleware.JWTMiddlewareConfig{Validator: cfg.Tokens, Logger: log}),
		middleware.TracingAttributeInjector(),
	)

	billingRoutes := NewDomainGroup("billing", "/billing")
	billingRoutes.GET("/status", h.Billing.GetStatus)
	billingRoutes.PUT("/usage", h.Billing.RecordUsage)
	r.Register(billingRoutes)

	creditRoutes := NewDomainGroup("credits", "/credits")
	creditRoutes.Use(middleware.AccessControl(cfg.Status, log))
	creditRoutes.GET("/:type", h.Credit.GetBalance)
	creditRoutes.POST("/:type/consume", h.Credit.Consume)
	creditRoutes.GET("/:type/packages", h.Credit.ListPackages)
	creditRoutes.GET("/:type/usage", h.Credit.ListUsage)
	r.Register(creditRoutes)

	systemRoutes := NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", h.System.GetSystemInfo)
	r.Register(systemRoutes)

	r.Setup()
	return engine, nil
}
