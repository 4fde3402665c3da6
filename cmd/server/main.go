package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/infrastructure/auth"
	infrabilling "github.com/meterly/backend/internal/infrastructure/billing"
	"github.com/meterly/backend/internal/infrastructure/cache"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/infrastructure/event"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/migration"
	"github.com/meterly/backend/internal/infrastructure/notification"
	"github.com/meterly/backend/internal/infrastructure/persistence"
	"github.com/meterly/backend/internal/infrastructure/scheduler"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/meterly/backend/internal/interfaces/http/handler"
	"github.com/meterly/backend/internal/interfaces/http/middleware"
	"github.com/meterly/backend/internal/interfaces/http/router"
	"github.com/meterly/backend/migrations"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

//	@title			Meterly Billing API
//	@version		1.0
//	@description	Account billing state, effective limits and credit ledger

//	@BasePath	/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Meterly billing service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry: traces, metrics, logs and profiles
	tel, log := setupTelemetry(ctx, cfg, log)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log,
		logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatal("Failed to get sql.DB", zap.Error(err))
	}

	dbInstrCfg := telemetry.DBInstrumentationConfig{
		Tracing:            tel.tracer.IsEnabled(),
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
	}
	if tel.meter.IsEnabled() {
		dbInstrCfg.Meter = tel.meter.Meter("meterly/database")
	}
	dbMetrics, err := telemetry.InstrumentDB(db.DB, dbInstrCfg, log)
	if err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
	}

	if cfg.Database.AutoMigrate {
		if err := runMigrations(sqlDB, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Repositories
	packageRepo := persistence.NewGormCreditPackageRepository(db.DB)
	usageRepo := persistence.NewGormCreditUsageRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	receiptRepo := persistence.NewGormWebhookReceiptRepository(db.DB)
	accountUsageRepo := persistence.NewGormAccountUsageRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	// Plan catalog and gateway verification
	catalog, err := infrabilling.NewPlanCatalog(cfg.Billing, cfg.Stripe)
	if err != nil {
		log.Fatal("Invalid plan catalog", zap.Error(err))
	}
	stripeCfg := infrabilling.NewStripeConfig(cfg.Stripe)
	if err := stripeCfg.Validate(); err != nil {
		log.Fatal("Invalid Stripe configuration", zap.Error(err))
	}
	verifier, err := infrabilling.NewStripeEventVerifier(stripeCfg, log)
	if err != nil {
		log.Fatal("Failed to create webhook verifier", zap.Error(err))
	}

	// Webhook idempotency fast path; Redis when configured
	idempotency, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cache.WithLogger(log)).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Event bus and subscribers
	eventBus := event.NewInMemoryEventBus(log, event.WithAsyncDispatch())

	var notifier appbilling.BillingNotifier = notification.NewLogNotifier(log)
	if cfg.Notification.Enabled {
		resendNotifier, err := notification.NewResendNotifier(notification.ResendConfig{
			APIKey:      cfg.Notification.ResendAPIKey,
			FromAddress: cfg.Notification.FromAddress,
			BillingURL:  cfg.Notification.BillingURL,
		}, log)
		if err != nil {
			log.Fatal("Failed to create email notifier", zap.Error(err))
		}
		notifier = resendNotifier
	}
	eventBus.Subscribe(appbilling.NewBillingNotificationHandler(notifier, catalog, log))

	var billingMetrics *telemetry.BillingMetrics
	if tel.meter.IsEnabled() {
		billingMetrics, err = telemetry.NewBillingMetrics(telemetry.BillingMetricsConfig{
			Meter:  tel.meter.Meter("meterly/billing"),
			Logger: log,
		})
		if err != nil {
			log.Fatal("Failed to create billing metrics", zap.Error(err))
		}
		eventBus.Subscribe(billingMetrics)
	}

	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Application services
	ledger := appbilling.NewCreditLedgerService(appbilling.CreditLedgerServiceConfig{
		Packages: packageRepo,
		Usage:    usageRepo,
		TxScope:  txScope,
		EventBus: eventBus,
		Logger:   log,
	})

	processorCfg := appbilling.WebhookProcessorConfig{
		Verifier:          verifier,
		Receipts:          receiptRepo,
		Subscriptions:     subscriptionRepo,
		TxScope:           txScope,
		Ledger:            ledger,
		Catalog:           catalog,
		Idempotency:       idempotency,
		IdempotencyTTL:    cfg.Billing.IdempotencyTTL,
		EventBus:          eventBus,
		Logger:            log,
		HandlerTimeout:    cfg.Billing.HandlerTimeout,
		MaxRetries:        cfg.Billing.MaxWebhookRetries,
		StalePendingAfter: cfg.Billing.StalePendingAfter,
		ReconcileBatch:    cfg.Billing.ReconcileBatchSize,
	}
	// A nil *BillingMetrics in the interface would not compare equal to nil
	if billingMetrics != nil {
		processorCfg.Metrics = billingMetrics
	}
	processor := appbilling.NewWebhookProcessor(processorCfg)

	statusService := appbilling.NewAccountStatusService(appbilling.AccountStatusServiceConfig{
		Subscriptions: subscriptionRepo,
		Usage:         accountUsageRepo,
		Catalog:       catalog,
		Logger:        log,
	})

	// Maintenance jobs
	var jobRecorder scheduler.JobRecorder
	if billingMetrics != nil {
		jobRecorder = billingMetrics
	}
	jobs := scheduler.New(scheduler.Config{
		Enabled:    cfg.Billing.SchedulerEnabled,
		JobTimeout: cfg.Billing.ScheduledJobTimeout,
	}, jobRecorder, log)
	if err := jobs.Register(scheduler.ExpireCreditsJob(cfg.Billing.ExpirySchedule, ledger)); err != nil {
		log.Fatal("Failed to register credit expiry job", zap.Error(err))
	}
	if err := jobs.Register(scheduler.ReconcileWebhooksJob(cfg.Billing.ReconcileSchedule, processor)); err != nil {
		log.Fatal("Failed to register webhook reconcile job", zap.Error(err))
	}
	if err := jobs.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine, err := router.NewEngine(router.EngineConfig{
		Logger: log,
		HTTP:   cfg.HTTP,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tel.tracer.IsEnabled(),
		},
		MeterProvider: tel.meter,
		Tokens:        auth.NewJWTService(cfg.JWT),
		Status:        statusService,
		Handlers: router.Handlers{
			Billing: handler.NewBillingHandler(statusService),
			Credit:  handler.NewCreditHandler(ledger),
			Webhook: handler.NewWebhookHandler(processor, cfg.HTTP.WebhookMaxBytes),
			System: handler.NewSystemHandler(version, map[string]handler.ReadinessCheck{
				"database": sqlDB.PingContext,
			}),
		},
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not drain", zap.Error(err))
	}
	if err := idempotency.Close(); err != nil {
		log.Warn("Error closing idempotency store", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.Stop()
	}
	tel.shutdown(shutdownCtx, log)
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

type telemetryProviders struct {
	tracer   *telemetry.TracerProvider
	meter    *telemetry.MeterProvider
	logs     *telemetry.LoggerProvider
	profiler *telemetry.Profiler
}

// setupTelemetry starts the OTLP providers and the profiler. The returned
// logger tees into the OTLP log exporter when log export is enabled.
// Provider failures are logged and the service runs without that signal.
func setupTelemetry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*telemetryProviders, *zap.Logger) {
	tel := &telemetryProviders{}
	tc := cfg.Telemetry

	var err error
	tel.tracer, err = telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	tel.meter, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ExportInterval:    tc.ExportInterval,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	tel.logs, err = telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           tc.Enabled && tc.LogsEnabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log provider", zap.Error(err))
	}
	if tel.logs.IsEnabled() {
		level, err := zapcore.ParseLevel(tc.LogExportLevel)
		if err != nil {
			level = zapcore.InfoLevel
		}
		log = tel.logs.Bridge(log, level)
	}

	tel.profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         tc.Profiling.Enabled,
		ServerAddress:   tc.Profiling.ServerAddress,
		ApplicationName: tc.ServiceName,
		SpanProfiles:    tc.Profiling.SpanProfiles,
	}, tel.tracer, log)
	if err != nil {
		log.Warn("Continuous profiling disabled", zap.Error(err))
	}

	return tel, log
}

func (t *telemetryProviders) shutdown(ctx context.Context, log *zap.Logger) {
	if t.profiler != nil {
		if err := t.profiler.Stop(); err != nil {
			log.Warn("Error stopping profiler", zap.Error(err))
		}
	}
	if err := t.meter.Shutdown(ctx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := t.tracer.Shutdown(ctx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}
	// Last so the shutdown logs above are exported
	if err := t.logs.Shutdown(ctx); err != nil {
		log.Warn("Error shutting down log provider", zap.Error(err))
	}
}

func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	m, err := migration.NewFromFS(sqlDB, migrations.FS, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()
	return m.Up()
}
